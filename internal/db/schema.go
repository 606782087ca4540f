package db

// SchemaSQL defines the document tables. Both are schemaless: documents are
// validated on decode, and user documents carry profile fields written by
// the sign-up flow that this service does not own.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS chat_saves SCHEMALESS;

    DEFINE TABLE IF NOT EXISTS tickets SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS tickets_user_id ON tickets FIELDS user_id;
    DEFINE INDEX IF NOT EXISTS tickets_status ON tickets FIELDS status;
`
