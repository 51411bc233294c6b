// Package protocol implements the session wire format: one message per
// newline-terminated frame, "TAG" or "TAG:payload".
//
//	MOVE:e2e4
//	DRAW
//	DRAW_ACCEPT
//	DRAW_DECLINE
//	RESIGN
package protocol

import "fmt"

// Kind tags a Message.
type Kind uint8

const (
	KindMove Kind = iota + 1
	KindDrawOffer
	KindDrawAccept
	KindDrawDecline
	KindResign
)

const (
	tagMove        = "MOVE"
	tagDrawOffer   = "DRAW"
	tagDrawAccept  = "DRAW_ACCEPT"
	tagDrawDecline = "DRAW_DECLINE"
	tagResign      = "RESIGN"
)

var kindTags = map[Kind]string{
	KindMove:        tagMove,
	KindDrawOffer:   tagDrawOffer,
	KindDrawAccept:  tagDrawAccept,
	KindDrawDecline: tagDrawDecline,
	KindResign:      tagResign,
}

var tagKinds = map[string]Kind{
	tagMove:        KindMove,
	tagDrawOffer:   KindDrawOffer,
	tagDrawAccept:  KindDrawAccept,
	tagDrawDecline: KindDrawDecline,
	tagResign:      KindResign,
}

func (k Kind) String() string {
	if tag, ok := kindTags[k]; ok {
		return tag
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Message is one protocol message. UCI is set only for KindMove.
type Message struct {
	Kind Kind
	UCI  string
}

// Move returns a move message carrying uci.
func Move(uci string) Message { return Message{Kind: KindMove, UCI: uci} }

// DrawOffer returns a draw offer message.
func DrawOffer() Message { return Message{Kind: KindDrawOffer} }

// DrawAccept returns a draw acceptance message.
func DrawAccept() Message { return Message{Kind: KindDrawAccept} }

// DrawDecline returns a draw refusal message.
func DrawDecline() Message { return Message{Kind: KindDrawDecline} }

// Resign returns a resignation message.
func Resign() Message { return Message{Kind: KindResign} }

func (m Message) String() string {
	if m.Kind == KindMove {
		return tagMove + ":" + m.UCI
	}
	return m.Kind.String()
}
