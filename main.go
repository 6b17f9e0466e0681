package main

import "github.com/edgeflare/restlet/cmd/restlet"

func main() {
	restlet.Main()
}
