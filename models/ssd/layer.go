package ssd

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Parameter names inside a layer.
const (
	ParamKernel = "kernel"
	ParamBias   = "bias"
)

// layer is a convolution with its parameters held outside any graph so they
// can be loaded once and shared by every batch-size specific graph.
type layer struct {
	name   string
	kernel *tensor.Dense // (out, in, k, k)
	bias   *tensor.Dense // (1, out, 1, 1)
	stride int
	relu   bool
}

func newLayer(name string, in, out, kernel, stride int, relu bool) *layer {
	ks := []int{out, in, kernel, kernel}
	return &layer{
		name: name,
		kernel: tensor.New(
			tensor.WithShape(ks...),
			tensor.WithBacking(G.GlorotU(1.0)(tensor.Float32, ks...)),
		),
		bias:   tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, out, 1, 1)),
		stride: stride,
		relu:   relu,
	}
}

// params returns the named parameters of the layer.
func (l *layer) params() map[string]*tensor.Dense {
	return map[string]*tensor.Dense{
		ParamKernel: l.kernel,
		ParamBias:   l.bias,
	}
}

// apply adds the layer to g on top of x.
func (l *layer) apply(g *G.ExprGraph, x *G.Node) (*G.Node, error) {
	w := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(l.kernel.Shape()...),
		G.WithName(l.name+"/"+ParamKernel),
		G.WithValue(l.kernel),
	)
	b := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(l.bias.Shape()...),
		G.WithName(l.name+"/"+ParamBias),
		G.WithValue(l.bias),
	)

	k := l.kernel.Shape()[2]
	pad := k / 2
	conv, err := G.Conv2d(x, w, tensor.Shape{k, k}, []int{pad, pad}, []int{l.stride, l.stride}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrapf(err, "conv %s", l.name)
	}

	out, err := G.BroadcastAdd(conv, b, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrapf(err, "bias %s", l.name)
	}

	if !l.relu {
		return out, nil
	}

	out, err = G.Rectify(out)
	if err != nil {
		return nil, errors.Wrapf(err, "relu %s", l.name)
	}

	return out, nil
}

// graph is a compiled forward pass for one batch size.
type graph struct {
	g     *G.ExprGraph
	input *G.Node
	cls   []*G.Node
	box   []*G.Node
	vm    G.VM
}

// close releases the tape machine.
func (gr *graph) close() error {
	return gr.vm.Close()
}
