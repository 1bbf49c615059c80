package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/jspark2504/gugudan-ai-server/internal/crypto"
)

func main() {
	key := make([]byte, crypto.KeySize)
	iv := make([]byte, crypto.IVSize)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	if _, err := rand.Read(iv); err != nil {
		panic(err)
	}

	fmt.Printf("AES_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
	fmt.Printf("AES_IV=%s\n", base64.StdEncoding.EncodeToString(iv))
}
