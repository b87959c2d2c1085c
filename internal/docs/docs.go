// Package docs registra el documento OpenAPI que sirve /swagger/*.
// Las rutas y modelos siguen las anotaciones @Router de los handlers; docs_test controla que no se desfasen.
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
        "/directory/doctors": {
            "post": {
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "directory"
                ],
                "summary": "Alta de médico",
                "parameters": [
                    {
                        "description": "Médico",
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/directory.createDoctorRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/directory.doctorResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/directory/doctors/{doctorID}": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "directory"
                ],
                "summary": "Ver médico",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID del médico",
                        "name": "doctorID",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/directory.doctorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/directory/patients": {
            "post": {
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "directory"
                ],
                "summary": "Alta de paciente",
                "description": "Registra un paciente y le asigna un identificador público (PAT-XXXXXXXX).",
                "parameters": [
                    {
                        "description": "Paciente",
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/directory.createPatientRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/directory.patientResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/directory/patients/{patientID}": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "directory"
                ],
                "summary": "Ver paciente",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID del paciente",
                        "name": "patientID",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/directory.patientResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/audit": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Auditoría de accesos a mis datos (paciente)",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "Máximo de entradas (1-500). Por defecto 100",
                        "name": "limit",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "array",
                                "items": {
                                    "$ref": "#/definitions/patientaccess.auditEntryResponse"
                                }
                            }
                        }
                    }
                }
            }
        },
        "/patient-access/granted": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Accesos vigentes sobre mis datos (paciente)",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "array",
                                "items": {
                                    "$ref": "#/definitions/patientaccess.grantResponse"
                                }
                            }
                        }
                    }
                }
            }
        },
        "/patient-access/granted/{grantID}/revoke": {
            "patch": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Revocar acceso (paciente)",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID del acceso compartido",
                        "name": "grantID",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/patientaccess.grantResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/request": {
            "post": {
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Solicitar acceso a un paciente",
                "description": "Crea una solicitud pending y envía un código de verificación al paciente. durationHours es opcional (1-168, por defecto 24).",
                "parameters": [
                    {
                        "description": "Solicitud",
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/patientaccess.createAccessRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/patientaccess.createdRequestResponse"
                        }
                    },
                    "400": {
                        "description": "campos faltantes, duración inválida o solicitud pending duplicada",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "404": {
                        "description": "paciente inexistente",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/requests/my-pending": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Mis solicitudes pendientes (médico)",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "array",
                                "items": {
                                    "$ref": "#/definitions/patientaccess.accessRequestResponse"
                                }
                            }
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/requests/pending": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Solicitudes pendientes sobre mis datos (paciente)",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "array",
                                "items": {
                                    "$ref": "#/definitions/patientaccess.accessRequestResponse"
                                }
                            }
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/requests/{id}/approve": {
            "patch": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Aprobar solicitud (paciente)",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID de la solicitud",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/patientaccess.expiresAtResponse"
                        }
                    },
                    "400": {
                        "description": "no pendiente o no es del paciente",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/requests/{id}/reject": {
            "patch": {
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Rechazar solicitud (paciente)",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID de la solicitud",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "Motivo opcional",
                        "name": "payload",
                        "in": "body",
                        "required": false,
                        "schema": {
                            "$ref": "#/definitions/patientaccess.rejectRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/patientaccess.accessRequestResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/requests/{id}/resend-otp": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Reenviar código",
                "description": "Invalida el código vigente y envía uno nuevo al paciente.",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID de la solicitud",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "string"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "429": {
                        "description": "Too Many Requests",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/requests/{id}/verify-otp": {
            "post": {
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Verificar código del paciente",
                "description": "El médico envía el código que le compartió el paciente. Si es válido la solicitud pasa a approved y se crea el acceso compartido.",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID de la solicitud",
                        "name": "id",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "Código de 6 dígitos",
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/patientaccess.verifyCodeRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/patientaccess.expiresAtResponse"
                        }
                    },
                    "400": {
                        "description": "código inválido, usado, vencido o solicitud ya procesada",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "429": {
                        "description": "Too Many Requests",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/search": {
            "post": {
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Buscar paciente",
                "description": "Busca un paciente por su ID global (PAT-XXXXXXXX) o por su UUID. No otorga acceso.",
                "parameters": [
                    {
                        "description": "Identificador del paciente",
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/patientaccess.searchPatientRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "$ref": "#/definitions/patientaccess.patientSummaryResponse"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/shared": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "patient-access"
                ],
                "summary": "Pacientes compartidos conmigo",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "additionalProperties": {
                                "type": "array",
                                "items": {
                                    "$ref": "#/definitions/patientaccess.sharedPatientResponse"
                                }
                            }
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patient-access/shared/{patientID}/reports": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "reports"
                ],
                "summary": "Informes de un paciente compartido conmigo",
                "description": "Requiere un acceso compartido vigente. Cada lectura queda auditada como RECORD_VIEWED.",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID del paciente",
                        "name": "patientID",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "integer",
                        "description": "Máximo a devolver (1-200). Por defecto 50",
                        "name": "limit",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "CSV de tipos (ej: LAB_RESULT,IMAGING)",
                        "name": "types",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "reportedAt mínimo (RFC3339)",
                        "name": "from",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "reportedAt máximo (RFC3339)",
                        "name": "to",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Texto en título o contenido",
                        "name": "q",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/reports.reportResponse"
                            }
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patients/{patientID}/referrals": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "referrals"
                ],
                "summary": "Listar derivaciones de un paciente",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID del paciente",
                        "name": "patientID",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/departmentaccess.referralResponse"
                            }
                        }
                    }
                }
            },
            "post": {
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "referrals"
                ],
                "summary": "Derivar paciente a un departamento",
                "description": "Registra una derivación (paciente, departamento). Idempotente: si ya existe responde 200 con la existente.",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID del paciente",
                        "name": "patientID",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "Departamento destino",
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/departmentaccess.createReferralRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/departmentaccess.referralResponse"
                        }
                    },
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/departmentaccess.referralResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patients/{patientID}/reports": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "reports"
                ],
                "summary": "Listar informes de un paciente",
                "description": "Lista informes, más recientes primero.",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID del paciente",
                        "name": "patientID",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "integer",
                        "description": "Máximo a devolver (1-200). Por defecto 50",
                        "name": "limit",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "CSV de tipos (ej: LAB_RESULT,IMAGING)",
                        "name": "types",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "reportedAt mínimo (RFC3339)",
                        "name": "from",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "reportedAt máximo (RFC3339)",
                        "name": "to",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Texto en título o contenido",
                        "name": "q",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/reports.reportResponse"
                            }
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            },
            "post": {
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "reports"
                ],
                "summary": "Cargar informe de un paciente",
                "description": "Médicos del departamento del paciente (o con derivación) y admins.",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID del paciente",
                        "name": "patientID",
                        "in": "path",
                        "required": true
                    },
                    {
                        "description": "Informe; reportedAt en RFC3339",
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/reports.createReportRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/reports.reportResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        },
        "/patients/{patientID}/reports/{reportID}": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "reports"
                ],
                "summary": "Ver informe",
                "parameters": [
                    {
                        "type": "string",
                        "description": "ID del paciente",
                        "name": "patientID",
                        "in": "path",
                        "required": true
                    },
                    {
                        "type": "string",
                        "description": "ID del informe",
                        "name": "reportID",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/reports.reportResponse"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/errorResponse"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "departmentaccess.createReferralRequest": {
            "type": "object",
            "required": [
                "departmentId"
            ],
            "properties": {
                "departmentId": {
                    "type": "string"
                }
            }
        },
        "departmentaccess.referralResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "patientId": {
                    "type": "string"
                },
                "departmentId": {
                    "type": "string"
                },
                "createdBy": {
                    "type": "string"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "directory.createDoctorRequest": {
            "type": "object",
            "required": [
                "firstName",
                "departmentId"
            ],
            "properties": {
                "id": {
                    "type": "string"
                },
                "firstName": {
                    "type": "string"
                },
                "lastName": {
                    "type": "string"
                },
                "email": {
                    "type": "string"
                },
                "departmentId": {
                    "type": "string"
                }
            }
        },
        "directory.createPatientRequest": {
            "type": "object",
            "required": [
                "firstName",
                "primaryDepartmentId"
            ],
            "properties": {
                "id": {
                    "type": "string"
                },
                "firstName": {
                    "type": "string"
                },
                "lastName": {
                    "type": "string"
                },
                "email": {
                    "type": "string"
                },
                "city": {
                    "type": "string"
                },
                "country": {
                    "type": "string"
                },
                "primaryDepartmentId": {
                    "type": "string"
                }
            }
        },
        "directory.doctorResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "firstName": {
                    "type": "string"
                },
                "lastName": {
                    "type": "string"
                },
                "email": {
                    "type": "string"
                },
                "departmentId": {
                    "type": "string"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "directory.patientResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "patientId": {
                    "type": "string"
                },
                "firstName": {
                    "type": "string"
                },
                "lastName": {
                    "type": "string"
                },
                "email": {
                    "type": "string"
                },
                "city": {
                    "type": "string"
                },
                "country": {
                    "type": "string"
                },
                "primaryDepartmentId": {
                    "type": "string"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "errorResponse": {
            "type": "object",
            "properties": {
                "message": {
                    "type": "string"
                }
            }
        },
        "patientaccess.accessRequestResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "patientId": {
                    "type": "string"
                },
                "doctorId": {
                    "type": "string"
                },
                "reason": {
                    "type": "string"
                },
                "durationHours": {
                    "type": "integer"
                },
                "status": {
                    "type": "string"
                },
                "approvedAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "rejectedAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "rejectionReason": {
                    "type": "string"
                },
                "expiresAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "patientaccess.auditEntryResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "doctorId": {
                    "type": "string"
                },
                "action": {
                    "type": "string"
                },
                "details": {
                    "type": "object"
                },
                "ipAddress": {
                    "type": "string"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "patientaccess.createAccessRequest": {
            "type": "object",
            "required": [
                "patientId",
                "reason"
            ],
            "properties": {
                "patientId": {
                    "type": "string"
                },
                "reason": {
                    "type": "string"
                },
                "durationHours": {
                    "type": "integer",
                    "minimum": 1,
                    "maximum": 168
                }
            }
        },
        "patientaccess.createdRequestResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "status": {
                    "type": "string"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "patientaccess.expiresAtResponse": {
            "type": "object",
            "properties": {
                "message": {
                    "type": "string"
                },
                "expiresAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "patientaccess.grantResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "patientId": {
                    "type": "string"
                },
                "doctorId": {
                    "type": "string"
                },
                "accessRequestId": {
                    "type": "string"
                },
                "grantedAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "expiresAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "isActive": {
                    "type": "boolean"
                },
                "revokedAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "patientaccess.patientSummaryResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "patientId": {
                    "type": "string"
                },
                "name": {
                    "type": "string"
                },
                "city": {
                    "type": "string"
                },
                "country": {
                    "type": "string"
                }
            }
        },
        "patientaccess.rejectRequest": {
            "type": "object",
            "properties": {
                "reason": {
                    "type": "string",
                    "maxLength": 500
                }
            }
        },
        "patientaccess.searchPatientRequest": {
            "type": "object",
            "required": [
                "patientId"
            ],
            "properties": {
                "patientId": {
                    "type": "string"
                }
            }
        },
        "patientaccess.sharedPatientResponse": {
            "type": "object",
            "properties": {
                "patient": {
                    "$ref": "#/definitions/patientaccess.patientSummaryResponse"
                },
                "grantId": {
                    "type": "string"
                },
                "grantedAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "expiresAt": {
                    "type": "string",
                    "format": "date-time"
                }
            }
        },
        "patientaccess.verifyCodeRequest": {
            "type": "object",
            "required": [
                "otpCode"
            ],
            "properties": {
                "otpCode": {
                    "type": "string"
                }
            }
        },
        "reports.createReportRequest": {
            "type": "object",
            "required": [
                "type",
                "title"
            ],
            "properties": {
                "type": {
                    "type": "string"
                },
                "title": {
                    "type": "string"
                },
                "content": {
                    "type": "string"
                },
                "reportedAt": {
                    "type": "string"
                },
                "departmentId": {
                    "type": "string"
                }
            }
        },
        "reports.reportResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "patientId": {
                    "type": "string"
                },
                "type": {
                    "type": "string"
                },
                "title": {
                    "type": "string"
                },
                "content": {
                    "type": "string"
                },
                "authorId": {
                    "type": "string"
                },
                "departmentId": {
                    "type": "string"
                },
                "reportedAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "createdAt": {
                    "type": "string",
                    "format": "date-time"
                },
                "status": {
                    "type": "string"
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Hospital Patient Access API",
	Description:      "Acceso de médicos a registros de pacientes: regla de departamento y acceso compartido con código de verificación.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
