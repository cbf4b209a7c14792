package main

import "fretes-chat/internal/app"

func main() {
	app.Run()
}
