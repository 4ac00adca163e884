// Package pipeline contains the leaf tasks of a site build: cleaning, vendor copies, stylesheet and script
// builds, precompression, archives, the live-reload dev server and deployments. Each constructor returns
// a buildsys.TaskFunc; external programs run through the embedded shell.
package pipeline
