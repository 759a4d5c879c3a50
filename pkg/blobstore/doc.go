/*
Package blobstore implements BlobStore (spec §4.2): content-addressed
binary storage with SHA-256 hashing, reference counting, and integrity
verification on add. Bytes and metadata live under the blob/<hash> and
blob-meta/<hash> keys of the shared storage.Adapter namespace.

MimeTypeForFilename and IsBinaryExtension are the pure, data-driven
helpers the document layer uses to decide whether a new node's content
belongs in the replicated text document or in this store.
*/
package blobstore
