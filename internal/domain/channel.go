package domain

// ChannelSnapshot is the live view of a channel used for recommendations.
type ChannelSnapshot struct {
	ChannelID     string `json:"channel_id"`
	Node          string `json:"node"`
	RemotePubkey  string `json:"remote_pubkey"`
	Capacity      int64  `json:"capacity"`
	LocalBalance  int64  `json:"local_balance"`
	RemoteBalance int64  `json:"remote_balance"`
}

// Node is a known network participant.
type Node struct {
	Name   string `json:"name"`
	Pubkey string `json:"pubkey"`
}
