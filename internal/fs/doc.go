// Package fs abstracts the file system operations used by the dictionary
// store so that crash-safety paths can be exercised with injected faults.
package fs
