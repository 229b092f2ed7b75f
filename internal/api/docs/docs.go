// Package docs holds the OpenAPI document for the rentledger HTTP API.
package docs

import (
	"net/http"

	"github.com/swaggo/swag"
)

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["auth"],
                "summary": "Exchange username and password for a bearer token",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {"200": {"description": "token issued"}, "401": {"$ref": "#/responses/Error"}}
            }
        },
        "/water-readings/create": {
            "post": {
                "tags": ["water-readings"],
                "summary": "Record a water reading for the next open month",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/ReadingRequest"}}],
                "responses": {
                    "201": {"description": "reading stored", "schema": {"$ref": "#/definitions/WaterReading"}},
                    "400": {"$ref": "#/responses/Error"},
                    "404": {"$ref": "#/responses/Error"},
                    "409": {"description": "a reading already exists; body carries it under existing"}
                }
            }
        },
        "/water-readings/update": {
            "patch": {
                "tags": ["water-readings"],
                "summary": "Edit a stored reading and recompute usage",
                "responses": {"200": {"description": "updated", "schema": {"$ref": "#/definitions/WaterReading"}}, "404": {"$ref": "#/responses/Error"}}
            }
        },
        "/water-readings": {
            "get": {
                "tags": ["water-readings"],
                "summary": "List readings",
                "parameters": [
                    {"in": "query", "name": "tenantId", "type": "string"},
                    {"in": "query", "name": "propertyId", "type": "string"},
                    {"in": "query", "name": "month", "type": "integer"},
                    {"in": "query", "name": "year", "type": "integer"}
                ],
                "responses": {"200": {"description": "readings", "schema": {"type": "array", "items": {"$ref": "#/definitions/WaterReading"}}}}
            }
        },
        "/water-readings/reconcile": {
            "get": {
                "tags": ["water-readings"],
                "summary": "Months missing a reading since the lease started",
                "parameters": [{"in": "query", "name": "tenantId", "type": "string", "required": true}],
                "responses": {"200": {"description": "reconciliation"}, "404": {"$ref": "#/responses/Error"}}
            }
        },
        "/water-readings/prepare": {
            "post": {
                "tags": ["water-readings"],
                "summary": "Pre-fill the next reading for a tenant",
                "responses": {"200": {"description": "draft"}, "400": {"$ref": "#/responses/Error"}}
            }
        },
        "/water-readings/stats": {
            "get": {
                "tags": ["water-readings"],
                "summary": "Reading coverage for a property and month",
                "responses": {"200": {"description": "stats"}}
            }
        },
        "/bills/preview": {
            "post": {
                "tags": ["bills"],
                "summary": "Compute bills for a property and month without saving",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/BillPeriodRequest"}}],
                "responses": {"200": {"description": "preview and summary"}, "404": {"$ref": "#/responses/Error"}}
            }
        },
        "/bills/generate": {
            "post": {
                "tags": ["bills"],
                "summary": "Create bills for occupied units that have none for the month",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/BillPeriodRequest"}}],
                "responses": {"200": {"description": "count, totalAmount, skipped and failures"}, "400": {"$ref": "#/responses/Error"}}
            }
        },
        "/bills": {
            "get": {
                "tags": ["bills"],
                "summary": "List bills",
                "parameters": [
                    {"in": "query", "name": "propertyId", "type": "string"},
                    {"in": "query", "name": "tenantId", "type": "string"},
                    {"in": "query", "name": "period", "type": "string", "description": "YYYY-MM"},
                    {"in": "query", "name": "status", "type": "string", "enum": ["PENDING", "PAID", "OVERDUE"]}
                ],
                "responses": {"200": {"description": "bills"}}
            }
        },
        "/bills/{id}": {
            "get": {
                "tags": ["bills"],
                "summary": "Get a bill",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "bill"}, "404": {"$ref": "#/responses/Error"}}
            }
        },
        "/bills/{id}/mark-paid": {
            "patch": {
                "tags": ["bills"],
                "summary": "Record payment of a bill",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "bill"}, "404": {"$ref": "#/responses/Error"}}
            }
        },
        "/bills/overdue/mark": {
            "post": {
                "tags": ["bills"],
                "summary": "Flip pending bills past their due date to overdue",
                "responses": {"200": {"description": "count"}}
            }
        },
        "/bills/{id}/remind": {
            "post": {
                "tags": ["bills"],
                "summary": "Email the tenant a reminder for one bill",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "sent"}, "503": {"$ref": "#/responses/Error"}}
            }
        },
        "/bills/reminders": {
            "post": {
                "tags": ["bills"],
                "summary": "Email reminders for every unpaid bill of a property",
                "responses": {"200": {"description": "sent count and failures"}}
            }
        },
        "/recurring-charges/create": {
            "post": {"tags": ["recurring-charges"], "summary": "Create a recurring charge", "responses": {"201": {"description": "charge"}, "400": {"$ref": "#/responses/Error"}}}
        },
        "/recurring-charges/update": {
            "patch": {"tags": ["recurring-charges"], "summary": "Replace a recurring charge", "responses": {"200": {"description": "charge"}, "404": {"$ref": "#/responses/Error"}}}
        },
        "/recurring-charges/list": {
            "get": {
                "tags": ["recurring-charges"],
                "summary": "List recurring charges",
                "parameters": [{"in": "query", "name": "propertyId", "type": "string"}, {"in": "query", "name": "activeOnly", "type": "boolean"}],
                "responses": {"200": {"description": "charges"}}
            }
        },
        "/recurring-charges/delete": {
            "delete": {
                "tags": ["recurring-charges"],
                "summary": "Delete a recurring charge",
                "parameters": [{"in": "query", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "deleted"}, "404": {"$ref": "#/responses/Error"}}
            }
        },
        "/garbage-fees/auto-generate": {
            "post": {"tags": ["garbage-fees"], "summary": "Back-fill monthly garbage fees", "responses": {"200": {"description": "fees created"}}}
        },
        "/properties/{id}/water-rate/import": {
            "post": {
                "tags": ["properties"],
                "summary": "Set the property water rate from a tariff PDF",
                "consumes": ["application/json", "multipart/form-data"],
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "property and parsed tariff"}, "400": {"$ref": "#/responses/Error"}}
            }
        },
        "/leases/expire": {
            "post": {"tags": ["leases"], "summary": "Expire ended leases and vacate their units", "responses": {"200": {"description": "expired lease ids"}}}
        },
        "/jobs": {
            "get": {"tags": ["jobs"], "summary": "Last run of each scheduled job", "responses": {"200": {"description": "jobs"}}}
        },
        "/jobs/{name}/run": {
            "post": {
                "tags": ["jobs"],
                "summary": "Run a scheduled job now",
                "parameters": [{"in": "path", "name": "name", "type": "string", "required": true, "enum": ["expire-leases", "mark-overdue", "garbage-backfill", "send-reminders"]}],
                "responses": {"200": {"description": "completed"}, "404": {"$ref": "#/responses/Error"}}
            }
        }
    },
    "responses": {
        "Error": {"description": "error", "schema": {"$ref": "#/definitions/Error"}}
    },
    "definitions": {
        "Error": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "code": {"type": "string"}}
        },
        "LoginRequest": {
            "type": "object",
            "required": ["username", "password"],
            "properties": {"username": {"type": "string"}, "password": {"type": "string"}, "expiresIn": {"type": "string", "example": "30d"}}
        },
        "BillPeriodRequest": {
            "type": "object",
            "required": ["propertyId", "month", "year"],
            "properties": {"propertyId": {"type": "string"}, "month": {"type": "integer"}, "year": {"type": "integer"}}
        },
        "ReadingRequest": {
            "type": "object",
            "required": ["tenantId", "currentReading", "month", "year"],
            "properties": {
                "tenantId": {"type": "string"},
                "unitId": {"type": "string"},
                "previousReading": {"type": "number"},
                "currentReading": {"type": "number"},
                "ratePerUnit": {"type": "number"},
                "month": {"type": "integer"},
                "year": {"type": "integer"},
                "override": {"type": "boolean"}
            }
        },
        "WaterReading": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "tenantId": {"type": "string"},
                "unitId": {"type": "string"},
                "previousReading": {"type": "string"},
                "currentReading": {"type": "string"},
                "unitsConsumed": {"type": "string"},
                "ratePerUnit": {"type": "string"},
                "amountDue": {"type": "string"},
                "month": {"type": "integer"},
                "year": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "rentledger API",
	Description:      "Water readings, recurring charges and monthly bills for rental properties.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// Handler serves the document at /doc.json and Swagger UI at /.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/doc.json", func(w http.ResponseWriter, r *http.Request) {
		doc, err := swag.ReadDoc(SwaggerInfo.InstanceName())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(swaggerUIHTML))
	})
	return mux
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>rentledger API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css">
  <style>
    body {
      margin: 0;
      padding: 0;
    }
    .swagger-ui .topbar {
      display: none;
    }
    .swagger-ui .info {
      margin: 20px 0;
    }
    .swagger-ui .info .title {
      color: #3b82f6;
    }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js"></script>
  <script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-standalone-preset.js"></script>
  <script>
    window.onload = function() {
      window.ui = SwaggerUIBundle({
        url: "/swagger/doc.json",
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [
          SwaggerUIBundle.presets.apis,
          SwaggerUIStandalonePreset
        ],
        plugins: [
          SwaggerUIBundle.plugins.DownloadUrl
        ],
        layout: "StandaloneLayout",
        defaultModelsExpandDepth: 1,
        defaultModelExpandDepth: 1,
        docExpansion: "list",
        filter: true,
        showExtensions: true,
        showCommonExtensions: true
      });
    };
  </script>
</body>
</html>
`
