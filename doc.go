/*
Package docstore implements an embedded multi-revision document store on top
of a key-value engine (Bolt, Badger, or an in-memory tree).

We implement:

1. Documents, each a tree of revisions with a deterministically chosen
current revision, conflicts, and tombstones.

2. Two partitions, one for live documents and one for deleted ones, merged
into a single keyspace. Deleted documents stay out of the way of default
enumerations.

3. Sequences: every save assigns a new, never reused number, giving a feed of
changes.

4. Expiration: documents can get a deadline after which they are purged.

5. Raw documents and remote-revision bookkeeping for a replicator built on top.

# Technical Details

**Buckets.**
Storage backends expose two-level buckets (name, sub). Bolt supports them
natively as nested buckets; Badger simulates them via key prefixes.

**Partitions.**
Each partition (“docs” and “docs.deleted”) keeps four buckets: records keyed
by document ID, a sequence index, an expiration index and a meta bucket
holding the sequence counter. Both partitions draw sequences from the live
partition's counter, so merged sequence order is total. A document lives in
exactly one partition; saves move it across when its deletion state changes.

**Value**: flags (uvarint), document flags (uvarint), sequence (uvarint),
expiration (uvarint), version size (uvarint), body size (uvarint), then
version and body, then an xxhash64 checksum of everything before it.

**Record body** is the msgpack-encoded revision tree (see package revtree).
Bodies of non-leaf revisions move to the “revbodies” bucket on save, keyed
by varbytes(docID) + revID; Compact drops them.

**Transactions.**
There is at most one write transaction; BeginTransaction nests, and only the
outermost EndTransaction commits. Calls made outside a transaction run in an
implicit one.
*/
package docstore
