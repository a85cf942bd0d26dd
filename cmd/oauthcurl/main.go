package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dghubble/oauth1"
)

// oauthcurl makes a single signed GET request, and prints the status and body of the response.
func main() {
	key := flag.String("key", "", "Consumer key")
	secret := flag.String("secret", "", "Consumer secret")
	token := flag.String("token", "", "Access token (empty for a 2-legged request)")
	tokenSecret := flag.String("tokensecret", "", "Access token secret")
	method := flag.String("method", "HMAC-SHA1", "HMAC-SHA1, HMAC-SHA256, or RSA-SHA1")
	rsaKeyFile := flag.String("rsakey", "", "PEM file with the RSA private key, for RSA-SHA1")
	realm := flag.String("realm", "", "Realm to send in the Authorization header")
	flag.Parse()
	if flag.NArg() != 1 || *key == "" {
		fmt.Println("Usage: oauthcurl -key <consumer key> -secret <consumer secret> [-token t -tokensecret s] <url>")
		os.Exit(1)
	}

	config := oauth1.NewConfig(*key, *secret)
	config.Realm = *realm
	switch *method {
	case "HMAC-SHA1":
	case "HMAC-SHA256":
		config.Signer = &oauth1.HMAC256Signer{ConsumerSecret: *secret}
	case "RSA-SHA1":
		priv, err := loadPrivateKey(*rsaKeyFile)
		if err != nil {
			fmt.Printf("Error loading RSA key: %v\n", err)
			os.Exit(1)
		}
		config.Signer = &oauth1.RSASigner{PrivateKey: priv}
	default:
		fmt.Printf("Unsupported signature method %v\n", *method)
		os.Exit(1)
	}

	client := config.Client(context.Background(), oauth1.NewToken(*token, *tokenSecret))
	resp, err := client.Get(flag.Arg(0))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("%v\n", resp.Status)
	if challenge := resp.Header.Get("WWW-Authenticate"); challenge != "" {
		fmt.Printf("WWW-Authenticate: %v\n", challenge)
	}
	fmt.Printf("%v\n", string(body))
}

func loadPrivateKey(filename string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("not a PEM file")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	if rsaKey, ok := key.(*rsa.PrivateKey); ok {
		return rsaKey, nil
	}
	return nil, errors.New("not an RSA private key")
}
