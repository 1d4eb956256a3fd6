package storage

const schema = `
-- The 'documents' table backs the realtime document store: one JSON body per document path.
CREATE TABLE IF NOT EXISTS documents (
    path TEXT PRIMARY KEY,
    body TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);

-- The 'sources' table tracks where imported cards came from, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    course_id TEXT NOT NULL,
    path TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'local', -- local | git
    last_scanned DATETIME,

    UNIQUE(course_id, path)
);

-- The 'flashcards' table stores every course deck together with each card's Leitner bucket.
CREATE TABLE IF NOT EXISTS flashcards (
    id TEXT PRIMARY KEY,
    course_id TEXT NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '',
    bucket INTEGER NOT NULL DEFAULT 1,
    last_review INTEGER NOT NULL DEFAULT 0, -- epoch milliseconds
    hash TEXT NOT NULL,
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_flashcards_course ON flashcards(course_id);
CREATE INDEX IF NOT EXISTS idx_flashcards_hash ON flashcards(course_id, hash);
`
