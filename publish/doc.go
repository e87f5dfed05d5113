// Package publish synchronizes a local gallery workspace to a remote object
// store and invalidates the CDN in front of it.
//
// A publish runs in two steps. Preview resolves the manifest graph into the
// set of reachable files, refreshes derived thumbnails, diffs that set
// against the remote prefix and stores the result as an immutable plan.
// Execute applies a stored plan one action at a time and streams progress
// on a channel that ends with exactly one terminal event.
//
// Example usage:
//
//	engine := publish.New(publish.WithLogger(logger))
//
//	plan, err := engine.Preview(ctx, publish.PreviewRequest{
//	    WorkspaceRoot: "/home/me/photos",
//	    Store: pubtypes.StoreParams{
//	        Bucket: "my-site",
//	        Region: "ap-southeast-2",
//	        Prefix: "galleries/",
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//
//	events, err := engine.Execute(ctx, plan.PlanID)
//	if err != nil {
//	    return err
//	}
//	for ev := range events {
//	    // render ev
//	}
//
// Only one preview or execute may hold a workspace at a time. The hold is
// enforced within the process and, through a lock file under the
// workspace's .data directory, across processes.
package publish
