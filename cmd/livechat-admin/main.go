// ABOUTME: Admin CLI for the livechat server REST API
// ABOUTME: Lists conversations, assigns operators, closes, and shows stats

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	host := os.Getenv("LIVECHAT_HOST")
	if host == "" {
		host = "http://localhost:8080"
	}
	token := os.Getenv("LIVECHAT_TOKEN")

	client := &apiClient{
		base:  strings.TrimRight(host, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(client)
	case "conversations":
		err = cmdConversations(client, args)
	case "show":
		err = cmdShow(client, args)
	case "assign":
		err = cmdAssign(client, args)
	case "close":
		err = cmdClose(client, args)
	case "resolve":
		err = cmdResolve(client, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: livechat-admin <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status                       Conversation counts by status")
	fmt.Println("  conversations [--status S]   List conversations (default open)")
	fmt.Println("  show ID                      Show one conversation with recent messages")
	fmt.Println("  assign ID OPERATOR_ID        Assign a conversation to an operator")
	fmt.Println("  close ID [--notes TEXT]      Close a conversation")
	fmt.Println("  resolve ID                   Mark a closed conversation resolved")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  LIVECHAT_HOST   Server base URL (default http://localhost:8080)")
	fmt.Println("  LIVECHAT_TOKEN  Operator JWT (required)")
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var env apiEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if !env.Success {
		return fmt.Errorf("%s (%d)", env.Message, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

type conversation struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customer_id"`
	OperatorID int64      `json:"operator_id"`
	Subject    string     `json:"subject"`
	Status     string     `json:"status"`
	Priority   string     `json:"priority"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ClosedAt   *time.Time `json:"closed_at"`
}

type message struct {
	Sequence   int64     `json:"sequence"`
	SenderType string    `json:"sender_type"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}

func cmdStatus(c *apiClient) error {
	var stats struct {
		Total    int `json:"total"`
		Open     int `json:"open"`
		Pending  int `json:"pending"`
		Closed   int `json:"closed"`
		Resolved int `json:"resolved"`
	}
	if err := c.do(http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Println("Conversations")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "  open\t%d\n", stats.Open)
	fmt.Fprintf(w, "  pending\t%d\n", stats.Pending)
	fmt.Fprintf(w, "  closed\t%d\n", stats.Closed)
	fmt.Fprintf(w, "  resolved\t%d\n", stats.Resolved)
	fmt.Fprintf(w, "  total\t%d\n", stats.Total)
	return w.Flush()
}

func cmdConversations(c *apiClient, args []string) error {
	status := "open"
	page := 1
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--status":
			if i+1 >= len(args) {
				return fmt.Errorf("--status requires a value")
			}
			status = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--status="):
			status = strings.TrimPrefix(args[i], "--status=")
		case args[i] == "--page":
			if i+1 >= len(args) {
				return fmt.Errorf("--page requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid page: %s", args[i+1])
			}
			page = n
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	var listing struct {
		Conversations []conversation `json:"conversations"`
		Total         int            `json:"total"`
		Page          int            `json:"page"`
	}
	path := fmt.Sprintf("/api/v1/conversations?status=%s&page=%d", status, page)
	if err := c.do(http.MethodGet, path, nil, &listing); err != nil {
		return err
	}

	if len(listing.Conversations) == 0 {
		fmt.Printf("No %s conversations.\n", status)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tOPERATOR\tSUBJECT\tUPDATED")
	for _, conv := range listing.Conversations {
		operator := "-"
		if conv.OperatorID != 0 {
			operator = strconv.FormatInt(conv.OperatorID, 10)
		}
		subject := conv.Subject
		if subject == "" {
			subject = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			conv.ID, conv.Status, conv.Priority, operator, subject,
			conv.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d total (page %d)\n", listing.Total, listing.Page)
	return nil
}

func cmdShow(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: show ID")
	}
	id := args[0]

	var conv conversation
	if err := c.do(http.MethodGet, "/api/v1/conversations/"+id, nil, &conv); err != nil {
		return err
	}

	bold := color.New(color.Bold)
	bold.Printf("Conversation %d\n", conv.ID)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "  status\t%s\n", conv.Status)
	fmt.Fprintf(w, "  priority\t%s\n", conv.Priority)
	fmt.Fprintf(w, "  customer\t%d\n", conv.CustomerID)
	if conv.OperatorID != 0 {
		fmt.Fprintf(w, "  operator\t%d\n", conv.OperatorID)
	}
	if conv.Subject != "" {
		fmt.Fprintf(w, "  subject\t%s\n", conv.Subject)
	}
	fmt.Fprintf(w, "  created\t%s\n", conv.CreatedAt.Local().Format(time.RFC822))
	if conv.ClosedAt != nil {
		fmt.Fprintf(w, "  closed\t%s\n", conv.ClosedAt.Local().Format(time.RFC822))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	var page struct {
		Messages []message `json:"messages"`
	}
	if err := c.do(http.MethodGet, "/api/v1/conversations/"+id+"/messages", nil, &page); err != nil {
		return err
	}
	if len(page.Messages) == 0 {
		return nil
	}

	fmt.Println()
	bold.Println("Recent messages")
	gray := color.New(color.FgHiBlack)
	for _, m := range page.Messages {
		gray.Printf("  #%d %s %s  ", m.Sequence, m.SentAt.Local().Format("15:04"), m.SenderType)
		if m.Type == "system" {
			gray.Printf("[%s]\n", m.Content)
			continue
		}
		fmt.Println(m.Content)
	}
	return nil
}

func cmdAssign(c *apiClient, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: assign ID OPERATOR_ID")
	}
	operatorID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid operator id: %s", args[1])
	}

	var conv conversation
	err = c.do(http.MethodPost, "/api/v1/conversations/"+args[0]+"/assign",
		map[string]int64{"operator_id": operatorID}, &conv)
	if err != nil {
		return err
	}
	color.Green("Conversation %d assigned to operator %d (%s)", conv.ID, conv.OperatorID, conv.Status)
	return nil
}

func cmdClose(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: close ID [--notes TEXT]")
	}
	id := args[0]
	var notes string
	for i := 1; i < len(args); i++ {
		switch {
		case args[i] == "--notes":
			if i+1 >= len(args) {
				return fmt.Errorf("--notes requires a value")
			}
			notes = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--notes="):
			notes = strings.TrimPrefix(args[i], "--notes=")
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	var conv conversation
	err := c.do(http.MethodPost, "/api/v1/conversations/"+id+"/close",
		map[string]string{"notes": notes}, &conv)
	if err != nil {
		return err
	}
	color.Green("Conversation %d closed", conv.ID)
	return nil
}

func cmdResolve(c *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: resolve ID")
	}
	var conv conversation
	if err := c.do(http.MethodPost, "/api/v1/conversations/"+args[0]+"/resolve", nil, &conv); err != nil {
		return err
	}
	color.Green("Conversation %d resolved", conv.ID)
	return nil
}
