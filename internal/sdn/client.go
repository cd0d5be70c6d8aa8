package sdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	EtherTypeIPv4 = 0x0800
	IPProtoTCP    = 6
)

// Match is the subset of OpenFlow match fields used by this service
type Match struct {
	EthType int    `json:"eth_type,omitempty"`
	IPv4Src string `json:"ipv4_src,omitempty"`
	DlVlan  int    `json:"dl_vlan,omitempty"`
	NwProto int    `json:"nw_proto,omitempty"`
	TpDst   int    `json:"tp_dst,omitempty"`
}

type Action struct {
	Type string `json:"type"`
	Port string `json:"port,omitempty"`
}

// FlowRule is a flow entry for the Ryu ofctl_rest API. An empty action
// list drops matching traffic.
type FlowRule struct {
	DatapathID int      `json:"dpid"`
	Priority   int      `json:"priority,omitempty"`
	Match      Match    `json:"match"`
	Actions    []Action `json:"actions"`
}

// DropSource builds a rule dropping all IPv4 traffic from ip
func DropSource(dpid, priority int, ip string) FlowRule {
	return FlowRule{
		DatapathID: dpid,
		Priority:   priority,
		Match:      Match{EthType: EtherTypeIPv4, IPv4Src: ip},
		Actions:    []Action{},
	}
}

// DropVLAN builds a rule dropping all traffic tagged with vlan
func DropVLAN(dpid, priority, vlan int) FlowRule {
	return FlowRule{
		DatapathID: dpid,
		Priority:   priority,
		Match:      Match{DlVlan: vlan},
		Actions:    []Action{},
	}
}

// AllowVLANPort builds a rule forwarding TCP traffic to port on vlan normally
func AllowVLANPort(dpid, priority, vlan, port int) FlowRule {
	return FlowRule{
		DatapathID: dpid,
		Priority:   priority,
		Match:      Match{DlVlan: vlan, EthType: EtherTypeIPv4, NwProto: IPProtoTCP, TpDst: port},
		Actions:    []Action{{Type: "OUTPUT", Port: "NORMAL"}},
	}
}

// Client talks to the Ryu controller REST API.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// InstallFlow adds a flow entry on the switch
func (c *Client) InstallFlow(ctx context.Context, rule FlowRule) error {
	return c.post(ctx, "/stats/flowentry/add", rule)
}

// DeleteFlow removes every flow entry matching rule.Match
func (c *Client) DeleteFlow(ctx context.Context, rule FlowRule) error {
	return c.post(ctx, "/stats/flowentry/delete", deleteRequest{DatapathID: rule.DatapathID, Match: rule.Match})
}

type deleteRequest struct {
	DatapathID int   `json:"dpid"`
	Match      Match `json:"match"`
}

// Reachable reports whether the controller answers the switch listing
func (c *Client) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats/switches", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal flow rule: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("controller unreachable: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s failed: HTTP %d %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
