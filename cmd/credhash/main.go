// credhash hashes a payment security answer for seeding fixtures and
// support workflows. The output matches what the service stores.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	answer, err := readAnswer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read answer: %v\n", err)
		os.Exit(1)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(answer), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash answer: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func readAnswer() (string, error) {
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		return os.Args[1], nil
	}
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", fmt.Errorf("provide answer as arg or stdin")
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return "", err
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		return "", fmt.Errorf("answer is empty")
	}
	return answer, nil
}
