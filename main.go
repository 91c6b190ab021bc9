// Command jobindexer scans a job board feed, enriches each listing from its
// detail page and submits new listings to an index.
package main

import "github.com/JakeFAU/realtime-job-indexer/cmd"

func main() {
	cmd.Execute()
}
