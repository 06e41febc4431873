// Package webhook implements a receiving endpoint for audit deliveries.
//
// It is the other end of the delivery client: operators run it to check a
// destination's credentials, or as a minimal sink that records events.
//
// # Verification
//
// Each POST is checked in order:
//
//  1. Body size (413 if too large)
//  2. X-Audit-Digest, when present, must match the body (400)
//  3. Bearer token, when the endpoint has one (401)
//  4. X-Audit-Signature, when the endpoint has a secret (403)
//
// Token and signature comparisons are constant-time, and failures never say
// which part of the credential was wrong.
//
// # Example Usage
//
//	server := webhook.New(webhook.Config{
//		Listen: "127.0.0.1:9000",
//		Endpoints: []webhook.EndpointConfig{
//			{Path: "/audit", Token: os.Getenv("AUDIT_TOKEN"), Secret: os.Getenv("AUDIT_SECRET")},
//		},
//	}, webhook.NewJSONLinesSink(os.Stdout), logger)
//	if err := server.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package webhook
