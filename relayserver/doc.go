// Package relayserver implements a blind store-and-forward relay over
// HTTP+JSON, suitable for development and tests.
//
// Routes:
//
//	POST   /blob?lifetimeInMinutes=N   deposit content, 201 {"location": ...}
//	GET    /blob/{id}                  fetch content
//	POST   /inbox/create               201 {"receiveEndpoint", "ownerCredential", "expiresAt"}
//	POST   /inbox/{inbox}?lifetimeInMinutes=N   post a notification
//	GET    /inbox/{inbox}              list notifications (Bearer credential)
//	DELETE /inbox/{inbox}/{id}         delete a notification (Bearer credential)
//	DELETE /inbox/{inbox}              delete the inbox (Bearer credential)
//
// Blobs live in a BlobStore: MemoryBlobStore for tests, RedisBlobStore when
// several relay processes share storage. Inboxes are kept in memory.
package relayserver
