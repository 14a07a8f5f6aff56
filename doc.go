/*
Package mailstore is the storage core of a mail server: an ordered
key-value keyspace with typed keys, atomic batches with compare-and-swap
preconditions, bitmap-indexed queries and content-addressed blobs, running
unmodified on several engines (in-memory, Bolt, Pebble, DynamoDB).

# Keyspace

Every key starts with a subspace byte (see Subspaces), then the account id
(4 bytes, big-endian) and the collection (1 byte), then type-specific fixed
fields, with variable-length parts last. Byte order therefore follows field
order, and a key truncated after any field is a prefix of exactly the keys
sharing those fields.

**Bitmaps** (b): `account, collection, class, block`. A class is a family
byte, a field byte and a self-delimiting payload. Document ids are split
into blocks of 65536 (BitmapBlock); each block stores a roaring bitmap.

**Indexes** (i): `account, collection, field, key, document`. The key
payload is escaped (00 becomes 00 FF) and terminated by 00 00, which keeps
payload order and leaves the trailing document id unambiguous.

**Values** (v, a, c): `account, collection, document, class`. The class
picks the subspace: properties and named values, ACL entries, counters.

**Blobs** (o): `account, collection, document, hash, op`. Reservations use
collection 0 and document 0 with op BlobOpReserve.

**Logs** (l): `account, collection, change id` (8 bytes).

# Transactions

A Batch is applied atomically by Store.Write. Assertions (expected prior
values) are checked inside the transaction; a failed assertion rejects the
whole batch with ErrAssertValueFailed, and the caller re-reads and retries.
Every other failure is an internal error (errors.Is(err, ErrInternal)).

# Queries

A filter is a flat sequence of leaves and And/Or/Not ... End scopes,
evaluated with a stack machine over roaring bitmaps (Store.Filter). Results
can be sorted by an index or a precomputed order and paged relative to an
anchor document (Store.Sort).
*/
package mailstore
