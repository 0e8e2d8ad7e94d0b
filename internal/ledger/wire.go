package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedDocument is returned when a remote document cannot be decoded
// into a ledger entity. Callers skip such documents rather than fail.
var ErrMalformedDocument = errors.New("ledger: malformed document")

// TransactionDoc is the remote document shape for expenses and incomes.
// References are carried as remote document ids, never as local ids.
type TransactionDoc struct {
	LocalID          string          `json:"localId"`
	CategoryRemoteID string          `json:"categoryRemoteId"`
	PersonRemoteID   string          `json:"personRemoteId,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	AmountPaid       decimal.Decimal `json:"amountPaid"`
	Date             int64           `json:"date"`
	Description      string          `json:"description"`
	TransactionType  string          `json:"transactionType"`
	IsDeleted        bool            `json:"isDeleted"`
}

// CategoryDoc is the remote document shape for categories.
type CategoryDoc struct {
	LocalID            string `json:"localId"`
	Name               string `json:"name"`
	Color              string `json:"color"`
	IsExpenseCategory  bool   `json:"isExpenseCategory"`
	Icon               string `json:"icon"`
	Description        string `json:"description"`
	ExpectedPersonType string `json:"expectedPersonType"`
	IsDeleted          bool   `json:"isDeleted"`
}

// PersonDoc is the remote document shape for persons.
type PersonDoc struct {
	LocalID    string `json:"localId"`
	Name       string `json:"name"`
	PersonType string `json:"personType"`
	Contact    string `json:"contact"`
	IsDeleted  bool   `json:"isDeleted"`
}

// DecodeTransactionDoc parses and validates a transaction payload.
func DecodeTransactionDoc(data []byte) (*TransactionDoc, error) {
	return decodeDoc(data, func(d *TransactionDoc) error {
		if strings.TrimSpace(d.LocalID) == "" {
			return errors.New("missing localId")
		}

		if strings.TrimSpace(d.CategoryRemoteID) == "" {
			return errors.New("missing categoryRemoteId")
		}

		return nil
	})
}

// DecodeCategoryDoc parses and validates a category payload.
func DecodeCategoryDoc(data []byte) (*CategoryDoc, error) {
	return decodeDoc(data, func(d *CategoryDoc) error {
		if strings.TrimSpace(d.LocalID) == "" {
			return errors.New("missing localId")
		}

		return nil
	})
}

// DecodePersonDoc parses and validates a person payload.
func DecodePersonDoc(data []byte) (*PersonDoc, error) {
	return decodeDoc(data, func(d *PersonDoc) error {
		if strings.TrimSpace(d.LocalID) == "" {
			return errors.New("missing localId")
		}

		return nil
	})
}

func decodeDoc[T any](data []byte, validate func(*T) error) (*T, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedDocument)
	}

	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	if err := validate(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	return &doc, nil
}
