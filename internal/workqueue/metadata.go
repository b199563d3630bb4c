package workqueue

// Info carries display metadata for a queue card on the dashboard.
type Info struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	UnitCode    int    `json:"unit_code,omitempty"`
}

// DisplayOrder fixes how queues appear on the dashboard.
var DisplayOrder = []string{
	QueuePGB,
	"CEABRD-23150521",
	"CEAB-BI-23150521",
	"CEAB-RECURSO-23150521",
	"CEAB-DEFESO-23150521",
	"CEAB-COMPREV-23150521",
	"CEAB-MOB-23150521",
	QueueOthers,
}

var registry = map[string]Info{
	QueuePGB: {
		Code: QueuePGB, Name: "PGB",
		FullName:    "Programa de Gerenciamento de Benefícios",
		Description: "Tarefas da unidade PGB",
		Color:       "#007bff", UnitCode: 23150003,
	},
	"CEABRD-23150521": {
		Code: "CEABRD-23150521", Name: "CEABRD",
		FullName:    "Central de Análise de Benefícios e Reconhecimento de Direitos",
		Description: "Aposentadorias, pensões, BPC, salário-maternidade",
		Color:       "#28a745", UnitCode: 23150521,
	},
	"CEAB-BI-23150521": {
		Code: "CEAB-BI-23150521", Name: "CEAB-BI",
		FullName:    "Central de Análise de Benefícios por Incapacidade",
		Description: "Auxílio-doença, perícias, acertos pós-perícia",
		Color:       "#ffc107", UnitCode: 23150521,
	},
	"CEAB-RECURSO-23150521": {
		Code: "CEAB-RECURSO-23150521", Name: "CEAB-RECURSO",
		FullName:    "Central de Análise de Recursos",
		Description: "Recursos, acórdãos, cumprimento de decisões",
		Color:       "#dc3545", UnitCode: 23150521,
	},
	"CEAB-DEFESO-23150521": {
		Code: "CEAB-DEFESO-23150521", Name: "CEAB-DEFESO",
		FullName:    "Central de Análise de Seguro Defeso",
		Description: "Seguro defeso - pescador artesanal",
		Color:       "#17a2b8", UnitCode: 23150521,
	},
	"CEAB-COMPREV-23150521": {
		Code: "CEAB-COMPREV-23150521", Name: "CEAB-COMPREV",
		FullName:    "Central de Análise de Compensação Previdenciária",
		Description: "COMPREV e certidões de tempo de contribuição",
		Color:       "#6f42c1", UnitCode: 23150521,
	},
	"CEAB-MOB-23150521": {
		Code: "CEAB-MOB-23150521", Name: "CEAB-MOB",
		FullName:    "Central de Análise de Apuração de Irregularidades",
		Description: "Apuração de irregularidades, força tarefa",
		Color:       "#fd7e14", UnitCode: 23150521,
	},
	QueueOthers: {
		Code: QueueOthers, Name: "OUTROS",
		FullName:    "Outras Tarefas",
		Description: "Tarefas fora das centrais configuradas",
		Color:       "#6c757d",
	},
}

// Lookup returns queue metadata, with a neutral default for unknown codes.
func Lookup(code string) Info {
	if info, ok := registry[code]; ok {
		return info
	}
	return Info{Code: code, Name: code, FullName: code, Color: "#6c757d"}
}
