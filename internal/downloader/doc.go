// Package downloader retrieves catalog products to local files.
//
// Each Task names a product, a download format and a destination
// directory. The Downloader derives the file name, resolves a signed URL
// through a URLResolver and streams the response to disk in fixed-size
// chunks, reporting progress through a throttled callback.
//
// # Usage
//
//	d := downloader.New(catalogClient, downloader.Options{})
//	status := d.Download(ctx, downloader.Task{
//	    Product: product,
//	    Format:  "STANDARD",
//	    Dir:     "/data/scenes",
//	})
//	if !status.Success {
//	    log.Println(status.Message)
//	}
//
// # Idempotency
//
// A destination file that already exists is reported as a success with
// MessageAlreadyExists. When the name is known up front no URL is
// resolved at all.
//
// # Failure Handling
//
// Data is written to "<path>.part" and renamed on completion. A failed
// transfer deletes the partial file, waits Options.Pause and starts over,
// up to Options.Attempts times. Download never returns an error: the
// outcome is always a TaskStatus. Concurrent downloads to the same path
// are not supported.
package downloader
