package handler

import "html/template"

type statusView struct {
	Title     string
	Reference string
	Status    string
	Class     string
	Message   string
	Notice    string
	Reason    string
	Amount    string
	Gateway   string
	Updated   string
	Portal    string
}

type portalView struct {
	Error     string
	Reference string
}

const pageHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{template "title" .}}</title>
    <style>
        body { font-family: -apple-system, Segoe UI, Helvetica, Arial, sans-serif; background: #f2f2f2; margin: 0; padding: 20px; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
        .box { background: #fff; border-radius: 8px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); padding: 40px; text-align: center; max-width: 420px; width: 100%; }
        h1 { color: #333; margin-bottom: 20px; font-size: 22px; }
        p { color: #666; margin-bottom: 10px; }
        .success { color: #1a7f37; } .pending { color: #9a6700; } .failed { color: #cf222e; }
        input { padding: 8px; width: 70%; } button { padding: 8px 16px; }
        .error { color: #cf222e; } .muted { color: #999; font-size: 13px; }
    </style>
</head>
<body>
    <div class="box">
{{template "body" .}}
    </div>
</body>
</html>`

var statusTemplate = template.Must(template.Must(template.New("status").Parse(pageHead)).Parse(`
{{define "title"}}{{.Title}}{{end}}
{{define "body"}}
        <h1>{{.Title}}</h1>
        {{if .Status}}<p class="{{.Class}}"><strong>{{.Message}}</strong></p>{{else}}<p>{{.Message}}</p>{{end}}
        {{if .Notice}}<p>{{.Notice}}</p>{{end}}
        {{if .Reason}}<p class="failed">{{.Reason}}</p>{{end}}
        {{if .Amount}}<p>Amount: <span>{{.Amount}}</span></p>{{end}}
        {{if .Gateway}}<p>Paid via: {{.Gateway}}</p>{{end}}
        {{if .Updated}}<p class="muted">Last updated {{.Updated}}</p>{{end}}
        {{if .Portal}}<p><a href="{{.Portal}}">Check another payment</a></p>{{end}}
{{end}}`))

var portalTemplate = template.Must(template.Must(template.New("portal").Parse(pageHead)).Parse(`
{{define "title"}}Check payment status{{end}}
{{define "body"}}
        <h1>Check payment status</h1>
        {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
        <form method="get" action="/payment/check-status/search">
            <input type="text" name="reference" value="{{.Reference}}" placeholder="Payment reference" required>
            <button type="submit">Check</button>
        </form>
{{end}}`))
