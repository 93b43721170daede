// Package textutil builds filesystem-safe artifact names from catalog titles.
//
// ArtifactName is pure: it never touches the filesystem, gives the same answer
// for the same inputs, and returns its own output unchanged when applied again
// with the same tier and job ID.
package textutil
