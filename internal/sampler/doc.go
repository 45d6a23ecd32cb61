// Package sampler holds the data model of a grid sampling run: coordinates,
// batches, regions, the credential ring, the raster cursor, the error taxonomy,
// and the ports the collection pipeline consumes.
package sampler
