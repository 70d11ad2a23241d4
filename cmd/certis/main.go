// Command certis crawls the Matter certified-products catalog.
package main

import "github.com/Chanseok/matter-certis-crawler/cmd"

func main() {
	cmd.Execute()
}
