package handler

// JavaScript passes .js files through as code fragments. The "bare" file
// option keeps the fragment out of its own closure.
type JavaScript struct{}

func NewJavaScript() Handler { return JavaScript{} }

func (JavaScript) Name() string         { return "javascript" }
func (JavaScript) Extensions() []string { return []string{"js"} }

func (JavaScript) Compile(in Input) Output {
	var out Output
	bare := BoolOption(in, "bare", &out)
	out.Code = append(out.Code, Code{Source: in.Source, ServePath: in.ServePath, Bare: bare})
	return out
}

// Asset serves a file unchanged. Files no handler claims are compiled with
// it.
type Asset struct{}

func NewAsset() Handler { return Asset{} }

func (Asset) Name() string         { return "asset" }
func (Asset) Extensions() []string { return nil }

func (Asset) Compile(in Input) Output {
	return Output{Resources: []Resource{{Type: TypeAsset, Data: in.Source, ServePath: in.ServePath, Path: in.Path}}}
}
