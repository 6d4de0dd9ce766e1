package notify

import (
	"html/template"
	"strings"
)

var inviteTemplate = template.Must(template.New("invite").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background:#0d1117;font-family:Arial,Helvetica,sans-serif;">
  <table width="100%" cellpadding="0" cellspacing="0" style="max-width:600px;margin:0 auto;background:#161b22;color:#e6edf3;">
    <tr>
      <td style="padding:32px;text-align:center;border-bottom:1px solid #30363d;">
        <h1 style="margin:0;color:#f0b429;">TopG Traders</h1>
        <p style="margin:8px 0 0;color:#8b949e;">{{.BatchName}} batch</p>
      </td>
    </tr>
    <tr>
      <td style="padding:32px;">
        <p>Hi {{.UserName}},</p>
        <p>Your payment is confirmed and your seat in the <strong>{{.BatchName}}</strong> batch is reserved.</p>
        <p>Join the private Telegram group with your personal invite link:</p>
        <p style="text-align:center;margin:32px 0;">
          <a href="{{.InviteLink}}" style="background:#f0b429;color:#0d1117;padding:14px 28px;border-radius:6px;text-decoration:none;font-weight:bold;">Join the Group</a>
        </p>
        <p style="color:#8b949e;font-size:13px;">This link admits a single member and can only be used once. Do not share it.</p>
      </td>
    </tr>
    <tr>
      <td style="padding:24px 32px;border-top:1px solid #30363d;color:#8b949e;font-size:12px;">
        Payment reference: {{.PaymentID}}
      </td>
    </tr>
  </table>
</body>
</html>`))

func renderInviteEmail(msg Message) (string, error) {
	var sb strings.Builder
	data := struct {
		UserName   string
		BatchName  string
		InviteLink string
		PaymentID  string
	}{
		UserName:   orDefault(msg.UserName, "Trader"),
		BatchName:  titleCase(msg.BatchName),
		InviteLink: msg.InviteLink,
		PaymentID:  msg.PaymentID,
	}
	if err := inviteTemplate.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
