package queuestore

const schemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id  TEXT NOT NULL,
	queue       TEXT NOT NULL,
	subqueue    TEXT NOT NULL DEFAULT '',
	headers     TEXT NOT NULL,
	body        BLOB NOT NULL,
	enqueued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_partition ON messages (queue, subqueue, seq);
CREATE INDEX IF NOT EXISTS idx_messages_lookup ON messages (queue, subqueue, message_id);
`
