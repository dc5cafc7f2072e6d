package dispatch

import (
	"fmt"

	"github.com/smartqueue/reminderd/internal/db"
)

// timingPhrase is how each category's default template describes when
// the appointment happens.
func timingPhrase(category db.ReminderCategory) string {
	switch category {
	case db.Category1Hour:
		return "in 1 hour"
	case db.Category1Day:
		return "tomorrow"
	default:
		return "in 15 minutes"
	}
}

const defaultBodyText = `Dear {{.Requester.FirstName}} {{.Requester.LastName}},

This is a reminder that you have an appointment scheduled for {{.AppointmentDate}} at {{.AppointmentTime}}.

Appointment Details:
- Token Number: {{.TokenNumber}}
- Department: {{.Department.Name}}
- Service: {{.Service.Name}}
- Queue Position: {{.QueuePosition}}

Please arrive at least 5 minutes before your scheduled time.

Thank you for using SmartQueue!

Best regards,
SmartQueue Team
`

const defaultBodyHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Appointment Reminder</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #2563eb; color: white; padding: 20px; text-align: center; }
        .content { padding: 20px; background-color: #f8fafc; }
        .appointment-details { background-color: white; padding: 15px; border-radius: 5px; margin: 15px 0; }
        .footer { text-align: center; padding: 20px; color: #666; }
        .highlight { color: #2563eb; font-weight: bold; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Appointment Reminder</h1>
        </div>
        <div class="content">
            <p>Dear {{.Requester.FirstName}} {{.Requester.LastName}},</p>
            <p>This is a reminder that you have an appointment scheduled for <span class="highlight">{{.AppointmentDate}} at {{.AppointmentTime}}</span>.</p>

            <div class="appointment-details">
                <h3>Appointment Details:</h3>
                <ul>
                    <li><strong>Token Number:</strong> {{.TokenNumber}}</li>
                    <li><strong>Department:</strong> {{.Department.Name}}</li>
                    <li><strong>Service:</strong> {{.Service.Name}}</li>
                    <li><strong>Queue Position:</strong> {{.QueuePosition}}</li>
                </ul>
            </div>

            <p><strong>Please arrive at least 5 minutes before your scheduled time.</strong></p>
            <p>Thank you for using SmartQueue!</p>
        </div>
        <div class="footer">
            <p>Best regards,<br>SmartQueue Team</p>
        </div>
    </div>
</body>
</html>
`

// DefaultTemplate returns the built-in template for a category. It is
// installed lazily when a dispatch finds no active template, and by the
// daily maintenance job.
func DefaultTemplate(category db.ReminderCategory) *db.Template {
	return &db.Template{
		Name:     fmt.Sprintf("Default %s Reminder", formatLead(category.LeadTime())),
		Category: category,
		IsActive: true,
		Subject:  fmt.Sprintf("Reminder: Your appointment is %s - {{.TokenNumber}}", timingPhrase(category)),
		BodyText: defaultBodyText,
		BodyHTML: defaultBodyHTML,
	}
}
