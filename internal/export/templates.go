package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

var documentTemplate = template.Must(template.New("sop").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t *time.Time, layout string) string {
		if t == nil {
			return ""
		}
		return t.Format(layout)
	},
	"safeHTML": SafeHTML,
}).Parse(sopTemplate))

// TemplateData holds data for the print template.
type TemplateData struct {
	DocCode    string
	TitleEn    string
	TitleAr    string
	Version    int
	Status     string
	Department string
	TOC        []TOCEntry
	Pages      []TemplatePage
	TotalPages int
	Signatures []Signatory
}

type TOCEntry struct {
	Heading string
	Page    int
}

type TemplatePage struct {
	Number int
	Blocks []Block
}

// RenderDocumentHTML renders the paginated print layout.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const sopTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.DocCode}} — {{.TitleEn}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; margin: 0; }
    .page { page-break-after: always; padding: 1rem 1.5rem; }
    .page:last-child { page-break-after: auto; }
    .page-header { display: flex; justify-content: space-between; border-bottom: 2px solid #333; padding-bottom: 0.5rem; margin-bottom: 1rem; }
    .page-header .titles { text-align: center; flex: 1; }
    .page-header .title-ar { direction: rtl; }
    .page-header .meta { font-size: 0.8em; color: #444; text-align: right; }
    .section h2 { font-size: 1.05em; border-bottom: 1px solid #999; padding-bottom: 0.2rem; }
    .toc td { border-bottom: 1px dotted #999; padding: 0.2rem 0.4rem; }
    .signatures { border-top: 2px solid #333; margin-top: 1.5rem; padding-top: 0.5rem; display: flex; justify-content: space-between; font-size: 0.85em; }
    .signatures .slot { flex: 1; text-align: center; }
    .signatures img { max-height: 40px; }
  </style>
</head>
<body>
  <div class="page">
    <div class="page-header">
      <div class="meta">{{.DocCode}}<br>Rev. {{.Version}}</div>
      <div class="titles">
        <div class="title-en"><strong>{{.TitleEn}}</strong></div>
        {{if .TitleAr}}<div class="title-ar">{{.TitleAr}}</div>{{end}}
      </div>
      <div class="meta">{{if .Department}}{{.Department}}<br>{{end}}{{.Status}}</div>
    </div>
    <h2>Table of Contents</h2>
    <table class="toc" width="100%">
      {{range .TOC}}<tr><td>{{.Heading}}</td><td align="right">{{.Page}}</td></tr>{{end}}
    </table>
  </div>
  {{$doc := .}}
  {{range .Pages}}
  <div class="page">
    <div class="page-header">
      <div class="meta">{{$doc.DocCode}}<br>Rev. {{$doc.Version}}</div>
      <div class="titles">
        <div class="title-en"><strong>{{$doc.TitleEn}}</strong></div>
        {{if $doc.TitleAr}}<div class="title-ar">{{$doc.TitleAr}}</div>{{end}}
      </div>
      <div class="meta">Page {{.Number}} of {{$doc.TotalPages}}</div>
    </div>
    {{range .Blocks}}
    <div class="section" id="{{.ID}}">
      <h2>{{.Heading}}</h2>
      <div>{{.HTML | safeHTML}}</div>
    </div>
    {{end}}
    <div class="signatures">
      {{range $doc.Signatures}}
      <div class="slot">
        {{if .ImageURL}}<img src="{{.ImageURL}}" alt="">{{end}}
        <div>{{.Label}}</div>
        <div>{{.Name}}{{if .SignedAt}} · {{formatDate .SignedAt "Jan 2, 2006"}}{{end}}</div>
      </div>
      {{end}}
    </div>
  </div>
  {{end}}
</body>
</html>`
