// Package sitefile evaluates site.star files. A site file declares options in its global scope and
// builds tasks inside a configure() function; the exported tasks form the registry the CLI runs.
package sitefile
