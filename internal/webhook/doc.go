// Package webhook serves the WhatsApp Cloud API webhook.
//
// # Security Model
//
// - Every POST body is authenticated with HMAC-SHA256 (X-Hub-Signature-256)
//   over the raw bytes, compared with crypto/subtle
// - Verification runs before the body is parsed or classified
// - Body size limits are enforced before hashing
// - Auth failures answer a generic 403
// - Request logging excludes payloads
//
// # Request Flow
//
//  1. GET {path}: hub.mode=subscribe and a matching hub.verify_token echo hub.challenge
//  2. POST {path}: body read up to max_body_size (413 beyond)
//  3. Signature checked (403 on mismatch or absence)
//  4. Body decoded (400 on invalid JSON) and classified
//  5. Status updates are acknowledged (200), malformed events rejected (404)
//  6. User messages: thread resolved, backend called, last message recorded, reply sent
//  7. Thread store or backend failure answers 500 and leaves the thread untouched
//
// # Example Usage
//
//	ctrl := webhook.NewController(cfg, store, dispatcher, replier, logger)
//	server := webhook.New(cfg, ctrl, logger)
//	if err := server.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package webhook
