package server

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/coinbase/spendauth"
)

const definitions = `
"definitions": {
	"address": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
	"hex": {"type": "string", "pattern": "^0x([0-9a-fA-F]{2})*$"},
	"uint": {"oneOf": [
		{"type": "string", "pattern": "^[0-9]+$"},
		{"type": "integer", "minimum": 0}
	]},
	"salt": {"type": "string", "pattern": "^(0x[0-9a-fA-F]+|[0-9]+)$"},
	"domain": {
		"type": "object",
		"required": ["name", "version", "chainId", "verifyingContract"],
		"properties": {
			"name": {"type": "string"},
			"version": {"type": "string"},
			"chainId": {"type": "integer", "minimum": 1},
			"verifyingContract": {"$ref": "#/definitions/address"}
		}
	},
	"signedPermission": {
		"type": "object",
		"required": ["permission", "signature", "domain"],
		"properties": {
			"permission": {
				"type": "object",
				"required": ["account", "spender", "token", "allowance", "period", "start", "end", "salt"],
				"properties": {
					"account": {"$ref": "#/definitions/address"},
					"spender": {"$ref": "#/definitions/address"},
					"token": {"$ref": "#/definitions/address"},
					"allowance": {"$ref": "#/definitions/uint"},
					"period": {"$ref": "#/definitions/uint"},
					"start": {"$ref": "#/definitions/uint"},
					"end": {"$ref": "#/definitions/uint"},
					"salt": {"$ref": "#/definitions/salt"},
					"extraData": {"$ref": "#/definitions/hex"}
				}
			},
			"signature": {"$ref": "#/definitions/hex"},
			"domain": {"$ref": "#/definitions/domain"}
		}
	},
	"call": {
		"type": "object",
		"required": ["to", "data", "value"],
		"properties": {
			"to": {"$ref": "#/definitions/address"},
			"data": {"$ref": "#/definitions/hex"},
			"value": {"type": "string", "pattern": "^0x(0|[1-9a-fA-F][0-9a-fA-F]*)$"}
		}
	},
	"batch": {
		"type": "object",
		"required": ["version", "from", "chainId", "calls"],
		"properties": {
			"version": {"type": "string"},
			"from": {"$ref": "#/definitions/address"},
			"chainId": {"type": "string", "pattern": "^0x[0-9a-fA-F]+$"},
			"atomicRequired": {"type": "boolean"},
			"calls": {"type": "array", "items": {"$ref": "#/definitions/call"}}
		}
	}
}`

var (
	signedPermissionSchema = mustSchema(`{"allOf": [{"$ref": "#/definitions/signedPermission"}],` + definitions + `}`)

	redeemSchema = mustSchema(`{
	"type": "object",
	"required": ["permission", "amount"],
	"properties": {
		"permission": {"$ref": "#/definitions/signedPermission"},
		"amount": {"type": "string", "pattern": "^[0-9]+$"}
	},` + definitions + `}`)

	revokeSchema = mustSchema(`{
	"type": "object",
	"required": ["permission"],
	"properties": {
		"permission": {"$ref": "#/definitions/signedPermission"}
	},` + definitions + `}`)

	batchSchema = mustSchema(`{
	"type": "object",
	"required": ["batch"],
	"properties": {
		"batch": {"$ref": "#/definitions/batch"},
		"universalAccount": {"$ref": "#/definitions/address"},
		"origin": {"type": "string"}
	},` + definitions + `}`)
)

func mustSchema(doc string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// validateBody checks body against schema. Failures are encoding errors listing every
// violation.
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return spendauth.Encodingf(spendauth.ReasonMalformedRequest, "invalid JSON: %v", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return spendauth.Encodingf(spendauth.ReasonMalformedRequest, "%s", strings.Join(problems, "; ")).
		WithDetail("errors", problems)
}
