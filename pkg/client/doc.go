// Package client is the renderledger Go SDK.
//
// A capture plugin opens a session, appends each editing event as it
// happens, and submits the rendered artifact at the end:
//
//	c := client.MustNew("http://localhost:4000/api")
//	sess, err := c.StartSession(ctx, "alice", "trailer")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sess.Append(ctx, "", map[string]any{"type": "composition.create", "name": "Main"})
//	sess.Append(ctx, "", map[string]any{"type": "render.start"})
//	sess.Append(ctx, "", map[string]any{"type": "render.finish", "output_hash": digest})
//	res, err := sess.Finish(ctx, artifact, "video/mp4")
//
// Session tracks the chain tip and computes each event hash locally with the
// same canonical encoding the server uses, so a session can only be
// invalidated by a concurrent writer or a tampered request.
//
// # Checking an artifact
//
//	res, err := c.Check(ctx, hexDigest)
//	if res.Registered {
//	    fmt.Println("approved in session", res.Record.SessionID)
//	}
//
// # Project ledgers
//
// Project routes need a user token:
//
//	c := client.MustNew(base, client.WithBearerToken(token))
//	err := c.StartProject(ctx, client.StartProjectRequest{ProjectID: "poster", FileHash: h})
//	_, err = c.AppendAction(ctx, "poster", "crop")
//	v, err := c.VerifyProject(ctx, "poster")
package client
