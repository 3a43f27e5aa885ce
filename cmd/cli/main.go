package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

func main() {
	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}
	key := os.Getenv("API_KEY")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Session token (empty to open a new session): ")
	token := readLine(reader)

	fmt.Print("Credits to top up (0 to skip): ")
	amount, _ := strconv.ParseInt(readLine(reader), 10, 64)
	if amount > 0 || token == "" {
		if amount <= 0 {
			amount = 10
		}
		out, err := post(api+"/api/topup", key, map[string]any{"token": token, "amount": amount})
		if err != nil {
			fmt.Println("Error contacting API:", err)
			return
		}
		token = fmt.Sprint(out["token"])
		fmt.Printf("Session %s, balance %v\n", token, out["balance"])
	}

	fmt.Print("URL to watch (e.g. https://example.com or tcp://host:443): ")
	raw := readLine(reader)
	if raw == "" {
		fmt.Println("Nothing to register.")
		return
	}

	fmt.Print("Requested interval in seconds: ")
	interval, _ := strconv.Atoi(readLine(reader))
	if interval <= 0 {
		interval = 60
	}

	out, err := post(api+"/api/register", key, map[string]any{
		"token":    token,
		"url":      raw,
		"interval": interval,
	})
	if err != nil {
		fmt.Println("Error contacting API:", err)
		return
	}
	fmt.Printf("Registered! wid=%v cid=%v url=%v\n", out["wid"], out["cid"], out["url"])
	fmt.Printf("Reports: GET %s/api/sessions/%s/watchers/%v/reports\n", api, token, out["wid"])
}

func readLine(r *bufio.Reader) string {
	s, _ := r.ReadString('\n')
	return strings.TrimSpace(s)
}

func post(url, key string, payload map[string]any) (map[string]any, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
