// Command tiler cuts georeferenced images into geohash-aligned tiles.
package main

import "os"

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
