package wire

// HandshakeStartPayload announces the server's RSA public key (PEM,
// SPKI) as the first plaintext frame of a connection.
type HandshakeStartPayload struct {
	PublicKey string `json:"public_key"`
}

// KeyExchangePayload carries the client's symmetric key, RSA-OAEP
// encrypted and base64 encoded.
type KeyExchangePayload struct {
	Key string `json:"key"`
}

// HandshakeCompletePayload is the first encrypted frame; decrypting it
// proves to the client that both ends hold the same key.
type HandshakeCompletePayload struct {
	Message string `json:"message"`
}

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupPayload struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChatPayload struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

// UserSummary is one entry of a whoisonline listing.
type UserSummary struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// UserInfo is the authenticated identity echoed back on a successful login.
type UserInfo struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// ResponsePayload is the server's generic reply. Status is one of the
// Status* constants; the remaining fields are populated per command.
type ResponsePayload struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Users    []UserSummary `json:"users,omitempty"`
	UserInfo *UserInfo     `json:"user_info,omitempty"`
}

// NewMessagePayload delivers a chat line to an online recipient. The
// sender identity is filled in from the originating session, never from
// client input.
type NewMessagePayload struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}
