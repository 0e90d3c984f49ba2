package main

import (
	"log"

	"multisender/services/multisendd"
)

func main() {
	if err := multisendd.Main(); err != nil {
		log.Fatalf("multisendd: %v", err)
	}
}
