package storage

import (
	"fmt"
	"strings"
)

// ObjectKind selects the layout used for an object key.
type ObjectKind string

const (
	KindReceipt ObjectKind = "receipt"
)

const defaultReceiptFileName = "receipt.json"

// PathParams provide the identifiers composed into object keys.
type PathParams struct {
	OrderID  string
	FileName string
}

// PathBuilder composes the object path for one kind.
type PathBuilder func(PathParams) (string, error)

var pathBuilders = map[ObjectKind]PathBuilder{
	KindReceipt: buildReceiptPath,
}

// BuildObjectPath resolves the object path for kind.
func BuildObjectPath(kind ObjectKind, params PathParams) (string, error) {
	builder, ok := pathBuilders[kind]
	if !ok {
		return "", fmt.Errorf("storage: unsupported object kind %q", kind)
	}
	return builder(params)
}

func buildReceiptPath(params PathParams) (string, error) {
	orderID, err := validateSegment("orderID", params.OrderID)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(params.FileName)
	if name == "" {
		name = defaultReceiptFileName
	}
	fileName, err := validateSegment("fileName", name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("receipts/orders/%s/%s", orderID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
