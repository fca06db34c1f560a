package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

// AES-256 key length
const EncryptionKeyBytesLen = 32

func main() {
	b := make([]byte, EncryptionKeyBytesLen)

	_, err := rand.Read(b)
	if err != nil {
		fmt.Printf("error while generating encryption key: %v", err)
		os.Exit(1)
	}

	fmt.Println(base64.StdEncoding.EncodeToString(b))
}
