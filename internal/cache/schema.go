package cache

const schema = `
CREATE TABLE IF NOT EXISTS widget_snapshots (
    instance_id INTEGER PRIMARY KEY,
    payload TEXT NOT NULL,
    captured_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS widget_configs (
    instance_id INTEGER PRIMARY KEY,
    sensor_id TEXT NOT NULL,
    sensor_name TEXT,
    user_id TEXT,
    theme TEXT,
    updated_at INTEGER NOT NULL
);
`
