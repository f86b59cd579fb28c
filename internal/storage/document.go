package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bbopar/discord-token-tracker/internal/domain"
)

// LegacyDocument is the flat JSON layout of data/tokens.json.
// The file backend persists this document; collection backends import it.
type LegacyDocument struct {
	LastUpdate             *time.Time                     `json:"lastUpdate"`
	Tokens                 map[string]*domain.TokenRecord `json:"tokens"`                 // keyed by token address
	SentRecommendations    map[string]time.Time           `json:"sentRecommendations"`    // address -> sentAt
	LastPerformanceUpdates map[string]time.Time           `json:"lastPerformanceUpdates"` // address -> refreshedAt
	MentionJobs            []string                       `json:"mentionJobs,omitempty"`  // FIFO
}

// NewLegacyDocument returns an empty document with all maps allocated.
func NewLegacyDocument() *LegacyDocument {
	return &LegacyDocument{
		Tokens:                 make(map[string]*domain.TokenRecord),
		SentRecommendations:    make(map[string]time.Time),
		LastPerformanceUpdates: make(map[string]time.Time),
	}
}

// DecodeLegacyDocument parses a document, allocating any missing maps.
// Token records keyed only by map key get their tokenAddress filled in.
func DecodeLegacyDocument(data []byte) (*LegacyDocument, error) {
	doc := NewLegacyDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode legacy document: %w", err)
	}
	if doc.Tokens == nil {
		doc.Tokens = make(map[string]*domain.TokenRecord)
	}
	if doc.SentRecommendations == nil {
		doc.SentRecommendations = make(map[string]time.Time)
	}
	if doc.LastPerformanceUpdates == nil {
		doc.LastPerformanceUpdates = make(map[string]time.Time)
	}
	for addr, rec := range doc.Tokens {
		if rec == nil {
			delete(doc.Tokens, addr)
			continue
		}
		if rec.TokenAddress == "" {
			rec.TokenAddress = addr
		}
		if rec.Chain == "" {
			rec.Chain = domain.DefaultChain
		}
		if rec.Updates == nil {
			rec.Updates = []domain.Update{}
		}
	}
	return doc, nil
}

// ReadLegacyDocument loads a document from path.
// Returns ErrNotFound if the file does not exist.
func ReadLegacyDocument(path string) (*LegacyDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read legacy document: %w", err)
	}
	return DecodeLegacyDocument(data)
}
