package nlp

import "encoding/json"

// ResponseSchema constrains model output to exactly one of four shapes:
// an accepted set of transactions, a clarification form, a rejection, or
// a request to look up user identifiers. Providers that support structured
// output receive it verbatim.
var ResponseSchema = json.RawMessage(`{
  "oneOf": [
    {
      "type": "object",
      "properties": {
        "responseType": { "const": "accept" },
        "transactions": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "type": { "enum": ["add", "remove"] },
              "service": { "type": "string" },
              "units": { "type": "string" },
              "sources": { "type": "string" },
              "notes": { "type": "string" },
              "index": { "type": "integer" },
              "withdrawn": { "type": "boolean" }
            },
            "required": ["type", "service", "units"],
            "additionalProperties": false
          }
        },
        "notes": { "type": "string" }
      },
      "required": ["responseType", "transactions"],
      "additionalProperties": false
    },
    {
      "type": "object",
      "properties": {
        "responseType": { "const": "clarify" },
        "title": { "type": "string", "maxLength": 45 },
        "components": {
          "type": "array",
          "maxItems": 5,
          "items": {
            "type": "object",
            "properties": {
              "type": { "enum": ["text", "textInput", "dropdown"] },
              "content": { "type": "string" },
              "id": { "type": "string" },
              "label": { "type": "string", "maxLength": 45 },
              "placeholder": { "type": "string" },
              "required": { "type": "boolean" },
              "options": {
                "type": "array",
                "maxItems": 25,
                "items": {
                  "type": "object",
                  "properties": {
                    "label": { "type": "string" },
                    "value": { "type": "string" }
                  },
                  "required": ["label", "value"],
                  "additionalProperties": false
                }
              },
              "minValues": { "type": "integer" },
              "maxValues": { "type": "integer" }
            },
            "required": ["type"],
            "additionalProperties": false
          }
        }
      },
      "required": ["responseType", "title", "components"],
      "additionalProperties": false
    },
    {
      "type": "object",
      "properties": {
        "responseType": { "const": "reject" },
        "detail": { "type": "string" }
      },
      "required": ["responseType"],
      "additionalProperties": false
    },
    {
      "type": "object",
      "properties": {
        "responseType": { "const": "userLookup" },
        "queries": {
          "type": "array",
          "minItems": 1,
          "items": { "type": "string" }
        }
      },
      "required": ["responseType", "queries"],
      "additionalProperties": false
    }
  ]
}`)
