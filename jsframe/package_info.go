// Package jsframe hosts frames in-process. Each frame is a goja VM running a page script on its
// own goroutine, with setTimeout, clearTimeout and console.log available to the script.
package jsframe
