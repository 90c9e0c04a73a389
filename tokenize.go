package epochflow

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/epochflow/epochflow/edge"
	kexpvar "github.com/epochflow/epochflow/expvar"
)

const statDiscarded = "discarded"

// Tokenize splits payload on whitespace, lowercases each token and strips trailing punctuation.
// Tokens left empty are dropped.
func Tokenize(payload string) []string {
	fields := strings.Fields(payload)
	tokens := fields[:0]
	for _, f := range fields {
		t := strings.TrimRightFunc(strings.ToLower(f), unicode.IsPunct)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// TokenizeNode turns records into tokens.
// Records that are not valid UTF-8 are discarded.
type TokenizeNode struct {
	node

	discarded *kexpvar.Int
}

func newTokenizeNode(p *Pipeline, name string) *TokenizeNode {
	n := &TokenizeNode{
		node:      newNode(p, name, "tokenize"),
		discarded: new(kexpvar.Int),
	}
	n.node.runF = n.runTokenize
	return n
}

func (n *TokenizeNode) runTokenize([]byte) error {
	n.statMap.Set(statDiscarded, n.discarded)
	consumer := edge.NewConsumerWithReceiver(
		n.ins[0],
		edge.NewReceiverFromForwardReceiverWithStats(n.outs, n),
	)
	return consumer.Consume()
}

func (n *TokenizeNode) Record(r edge.RecordMessage) (edge.Message, error) {
	if !utf8.ValidString(r.Payload) {
		n.discarded.Add(1)
		n.diag.Discarded(r.Offset, "invalid UTF-8")
		return nil, nil
	}
	return edge.NewTokensMessage(r.Offset, Tokenize(r.Payload)), nil
}

func (n *TokenizeNode) Tokens(edge.TokensMessage) (edge.Message, error) {
	return nil, fmt.Errorf("%s: unexpected tokens message", n.name)
}

func (n *TokenizeNode) Output(edge.OutputMessage) (edge.Message, error) {
	return nil, fmt.Errorf("%s: unexpected output message", n.name)
}

func (n *TokenizeNode) Barrier(b edge.BarrierMessage) (edge.Message, error) {
	return b, nil
}

func (n *TokenizeNode) Done() {}
