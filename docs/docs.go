// Package docs is generated by swag from the handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/inventory": {
            "get": {
                "description": "Returns the medication catalog the verifier matches against",
                "produces": ["application/json"],
                "tags": ["inventory"],
                "summary": "List inventory",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.inventoryResponse"}}
                }
            }
        },
        "/ledger": {
            "get": {
                "description": "Returns the newest audit records, oldest first",
                "produces": ["application/json"],
                "tags": ["ledger"],
                "summary": "Read audit ledger",
                "parameters": [
                    {"type": "integer", "default": 100, "description": "Maximum records (capped at 1000)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.ledgerResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/shared.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/shared.APIError"}}
                }
            }
        },
        "/ledger/reset": {
            "post": {
                "description": "Truncates the audit ledger to its header row",
                "consumes": ["application/json"],
                "tags": ["ledger"],
                "summary": "Reset audit ledger",
                "parameters": [
                    {"description": "Confirmation", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/api.resetLedgerRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/shared.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/shared.APIError"}}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "description": "Returns stream session metadata and frame counters",
                "produces": ["application/json"],
                "tags": ["sessions"],
                "summary": "Get stream session",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/session.sessionResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/shared.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/shared.APIError"}}
                }
            }
        },
        "/sessions/{id}/frame": {
            "get": {
                "description": "Returns the latest annotated frame of a stream as JPEG",
                "produces": ["image/jpeg"],
                "tags": ["sessions"],
                "summary": "Get latest stream frame",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/shared.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/shared.APIError"}}
                }
            }
        },
        "/verify/expiry": {
            "post": {
                "description": "Reads the printed expiry date from a package photo",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["verify"],
                "summary": "Read expiry date",
                "parameters": [
                    {"type": "file", "description": "Package image", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/expiry.Result"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/shared.APIError"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/shared.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/shared.APIError"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/shared.APIError"}}
                }
            }
        },
        "/verify/image": {
            "post": {
                "description": "Verifies one photo against the selected medication and audits the outcome",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["verify"],
                "summary": "Verify a static image",
                "parameters": [
                    {"type": "string", "description": "Expected medication id", "name": "target_id", "in": "formData", "required": true},
                    {"type": "file", "description": "Medication image", "name": "file", "in": "formData", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.verifyImageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/shared.APIError"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/shared.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/shared.APIError"}}
                }
            }
        }
    },
    "definitions": {
        "api.inventoryResponse": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/inventory.Entry"}},
                "total": {"type": "integer"}
            }
        },
        "api.ledgerResponse": {
            "type": "object",
            "properties": {
                "records": {"type": "array", "items": {"$ref": "#/definitions/ledger.AuditRecord"}},
                "total": {"type": "integer"}
            }
        },
        "api.resetLedgerRequest": {
            "type": "object",
            "required": ["confirm"],
            "properties": {
                "confirm": {"type": "boolean"}
            }
        },
        "api.verifyImageResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["SAFE", "DANGER", "ERROR"]},
                "message": {"type": "string"},
                "audited_record": {"$ref": "#/definitions/ledger.AuditRecord"},
                "evaluation": {"$ref": "#/definitions/match.Evaluation"},
                "image": {"type": "string", "description": "base64 JPEG of the annotated frame"}
            }
        },
        "detector.Box": {
            "type": "object",
            "properties": {
                "x1": {"type": "integer"},
                "y1": {"type": "integer"},
                "x2": {"type": "integer"},
                "y2": {"type": "integer"}
            }
        },
        "detector.Detection": {
            "type": "object",
            "properties": {
                "class_id": {"type": "integer"},
                "class_label": {"type": "string"},
                "confidence": {"type": "number"},
                "bounding_box": {"$ref": "#/definitions/detector.Box"}
            }
        },
        "expiry.Expiry": {
            "type": "object",
            "properties": {
                "raw": {"type": "string"},
                "date": {"type": "string"},
                "month_only": {"type": "boolean"}
            }
        },
        "expiry.Result": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["SUCCESS", "UNKNOWN"]},
                "date": {"type": "string"},
                "expired": {"type": "boolean"},
                "msg": {"type": "string"},
                "expiry": {"$ref": "#/definitions/expiry.Expiry"}
            }
        },
        "inventory.Entry": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "dose": {"type": "string"},
                "warnings": {"type": "string"}
            }
        },
        "ledger.AuditRecord": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["SAFE", "DANGER"]},
                "message": {"type": "string"},
                "timestamp": {"type": "string"},
                "model_source": {"type": "string"},
                "confidence": {"type": "number"}
            }
        },
        "match.Evaluation": {
            "type": "object",
            "properties": {
                "detected_id": {"type": "string"},
                "confidence": {"type": "number"},
                "status": {"type": "string", "enum": ["VERIFIED", "MISMATCH", "SKIPPED", "ERROR"]},
                "record": {"$ref": "#/definitions/detector.Detection"},
                "count": {"type": "integer"}
            }
        },
        "session.Metrics": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "frames": {"type": "integer"},
                "inferences": {"type": "integer"},
                "skipped": {"type": "integer"},
                "verified": {"type": "integer"},
                "mismatched": {"type": "integer"},
                "errors": {"type": "integer"},
                "audited": {"type": "integer"}
            }
        },
        "session.Session": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "target_id": {"type": "string"},
                "format": {"type": "string"},
                "width": {"type": "integer"},
                "height": {"type": "integer"},
                "status": {"type": "string", "enum": ["active", "ended", "error"]},
                "started_at": {"type": "string"},
                "last_active_at": {"type": "string"}
            }
        },
        "session.sessionResponse": {
            "type": "object",
            "properties": {
                "session": {"$ref": "#/definitions/session.Session"},
                "metrics": {"$ref": "#/definitions/session.Metrics"}
            }
        },
        "shared.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "object"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/v1",
	Schemes:          []string{},
	Title:            "MedVerify API",
	Description:      "Medication verification against a pharmacy inventory",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
