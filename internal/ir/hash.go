package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFunction = "morph/function/v1"
	DomainShape    = "morph/shape/v1"
	DomainCall     = "morph/call/v1"
	DomainProgram  = "morph/program/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FunctionHash identifies a function body. Profiles persisted under one
// hash are discarded when the body changes.
func FunctionHash(fn *Function) string {
	return hashWithDomain(DomainFunction, []byte(FormatFunction(fn)))
}

// ProgramHash identifies a program by its function bodies in declaration
// order.
func ProgramHash(p *Program) string {
	var buf []byte
	for _, name := range p.Order {
		buf = append(buf, FunctionHash(p.Functions[name])...)
		buf = append(buf, '\n')
	}
	return hashWithDomain(DomainProgram, buf)
}

// ShapeID is a stable identifier for a shape key.
func ShapeID(s Shape) string {
	return hashWithDomain(DomainShape, []byte(s.Key()))
}

// CallID identifies one recorded call by function, sequence and arguments.
func CallID(function string, seq int64, args []Value) (string, error) {
	canonical, err := MarshalCanonical(Record{
		"function": Str(function),
		"seq":      Int(seq),
		"args":     List(args),
	})
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainCall, canonical), nil
}
