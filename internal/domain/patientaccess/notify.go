package patientaccess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"hospital-patient-access/internal/domain/otp"
	"hospital-patient-access/internal/platform/mail"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "code_issued"}}Hola {{.PatientName}},

{{.DoctorName}} solicitó acceso a sus registros médicos por {{.DurationHours}} horas.
Motivo: {{.Reason}}

Si está de acuerdo, comparta este código con su médico: {{.Code}}
El código vence a los {{.CodeMinutes}} minutos. Si no reconoce la solicitud, ignore este mensaje
o recházela desde el portal.
{{end}}
{{define "approved_doctor"}}Hola {{.DoctorName}},

Se aprobó su acceso a los registros de {{.PatientName}} hasta {{.ExpiresAt}}.
{{end}}
{{define "approved_patient"}}Hola {{.PatientName}},

{{.DoctorName}} tiene acceso a sus registros hasta {{.ExpiresAt}}. Puede revocarlo desde el portal.
{{end}}
{{define "rejected"}}Hola {{.DoctorName}},

{{.PatientName}} rechazó su solicitud de acceso.{{if .Reason}} Motivo: {{.Reason}}{{end}}
{{end}}
{{define "revoked"}}Hola {{.DoctorName}},

{{.PatientName}} revocó su acceso a sus registros médicos.
{{end}}`))

type mailData struct {
	PatientName   string
	DoctorName    string
	Reason        string
	DurationHours int
	Code          string
	CodeMinutes   int
	ExpiresAt     string
}

// MailNotifier arma los mails con text/template y los entrega por un mail.Sender.
type MailNotifier struct {
	sender mail.Sender
	dir    Directory
}

func NewMailNotifier(sender mail.Sender, dir Directory) *MailNotifier {
	return &MailNotifier{sender: sender, dir: dir}
}

func (n *MailNotifier) CodeIssued(ctx context.Context, r AccessRequest, code otp.Code) error {
	patient, err := n.dir.Patient(ctx, r.PatientID)
	if err != nil {
		return fmt.Errorf("lookup patient: %w", err)
	}
	data := n.data(ctx, r.PatientID, r.DoctorID)
	data.Reason = r.Reason
	data.DurationHours = r.DurationHours
	data.Code = code.Code
	data.CodeMinutes = int(otp.CodeTTL / time.Minute)

	return n.send(ctx, patient.Email, "Solicitud de acceso a sus registros", "code_issued", data)
}

func (n *MailNotifier) RequestApproved(ctx context.Context, r AccessRequest, g Grant) error {
	data := n.data(ctx, r.PatientID, r.DoctorID)
	data.ExpiresAt = g.ExpiresAt.UTC().Format(time.RFC1123)

	var errs []error
	if d, err := n.dir.Doctor(ctx, r.DoctorID); err == nil {
		errs = append(errs, n.send(ctx, d.Email, "Acceso aprobado", "approved_doctor", data))
	} else {
		errs = append(errs, fmt.Errorf("lookup doctor: %w", err))
	}
	if p, err := n.dir.Patient(ctx, r.PatientID); err == nil {
		errs = append(errs, n.send(ctx, p.Email, "Acceso otorgado", "approved_patient", data))
	} else {
		errs = append(errs, fmt.Errorf("lookup patient: %w", err))
	}
	return errors.Join(errs...)
}

func (n *MailNotifier) RequestRejected(ctx context.Context, r AccessRequest) error {
	d, err := n.dir.Doctor(ctx, r.DoctorID)
	if err != nil {
		return fmt.Errorf("lookup doctor: %w", err)
	}
	data := n.data(ctx, r.PatientID, r.DoctorID)
	data.Reason = r.RejectionReason
	return n.send(ctx, d.Email, "Solicitud de acceso rechazada", "rejected", data)
}

func (n *MailNotifier) AccessRevoked(ctx context.Context, g Grant) error {
	d, err := n.dir.Doctor(ctx, g.DoctorID)
	if err != nil {
		return fmt.Errorf("lookup doctor: %w", err)
	}
	return n.send(ctx, d.Email, "Acceso revocado", "revoked", n.data(ctx, g.PatientID, g.DoctorID))
}

// data completa los nombres; si el directorio falla usa los ids.
func (n *MailNotifier) data(ctx context.Context, patientID, doctorID string) mailData {
	out := mailData{PatientName: patientID, DoctorName: doctorID}
	if p, err := n.dir.Patient(ctx, patientID); err == nil {
		out.PatientName = p.FullName()
	}
	if d, err := n.dir.Doctor(ctx, doctorID); err == nil {
		out.DoctorName = "Dr. " + d.FullName()
	}
	return out
}

func (n *MailNotifier) send(ctx context.Context, to, subject, tmpl string, data mailData) error {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}
	return n.sender.Send(ctx, mail.Message{
		To:      []string{to},
		Subject: subject,
		Body:    body.String(),
	})
}
