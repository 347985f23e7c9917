// Package cleanup finalizes the recordings of a capture.
//
// After every device has confirmed that capture stopped, the [Finalizer]
// moves each device's artifact out of the session's temp directory to its
// final name and removes the temp directory. It never aborts: a file that
// cannot be moved is reported as an [errors.FinalizeWarning], stays pending
// in the returned [Report], and keeps the temp directory alive so the move
// can be retried.
//
// [errors.FinalizeWarning]: github.com/Iron-Ham/camrig/internal/errors.FinalizeWarning
package cleanup
