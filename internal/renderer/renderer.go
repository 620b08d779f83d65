// Package renderer implements the wgpu painter: raster tile quads drawn
// in style layer order with cross-fade opacity, placed symbol markers on
// top, and the tile boundary debug overlay.
package renderer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"
	"unsafe"

	"github.com/rajveermalviya/go-webgpu/wgpu"

	"maprender/internal/camera"
	"maprender/internal/logx"
	"maprender/internal/scheduler"
	"maprender/internal/style"
	"maprender/pkg/geo"
	"maprender/pkg/tiles"
)

// ErrSurfaceUnavailable reports that the draw surface could not provide a
// frame, typically because the window is minimized or the GPU context was
// lost. The frame is skipped; content state is unaffected.
var ErrSurfaceUnavailable = errors.New("render surface unavailable")

// maxResidentTextures bounds the GPU tile cache; tiles unused by the
// current frame are evicted first.
const maxResidentTextures = 512

// markerSize is the side of a placed-symbol anchor quad in pixels.
const markerSize = 6.0

type vertex struct {
	Position [2]float32
	TexCoord [2]float32
}

type tileUniform struct {
	Offset     [2]float32
	Scale      [2]float32
	Opacity    float32
	Boundaries float32
	_          [2]float32
}

type markerUniform struct {
	Offset [2]float32
	Scale  [2]float32
	Color  [4]float32
}

type tileTexture struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

func (t *tileTexture) release() {
	t.view.Release()
	t.texture.Release()
}

// tileProvider is the slice of a raster source the painter needs: its
// resident encoded tiles.
type tileProvider interface {
	EachTile(fn func(tiles.Coord, []byte))
}

// Renderer draws a prepared style onto a wgpu surface. It implements the
// scheduler's Painter and runs on the engine's scheduling goroutine.
type Renderer struct {
	adapter *wgpu.Adapter
	device  *wgpu.Device
	queue   *wgpu.Queue
	surface *wgpu.Surface

	swapChain       *wgpu.SwapChain
	swapChainFormat wgpu.TextureFormat

	tilePipeline   *wgpu.RenderPipeline
	markerPipeline *wgpu.RenderPipeline
	tileLayout     *wgpu.BindGroupLayout
	markerLayout   *wgpu.BindGroupLayout
	sampler        *wgpu.Sampler
	quadVertices   *wgpu.Buffer
	quadIndices    *wgpu.Buffer

	placeholder *tileTexture
	textures    map[tiles.Coord]*tileTexture

	transform *camera.Transform
	width     int
	height    int
}

// New builds a renderer over an already-configured device and surface.
// The transform is the one the scheduler reconciles frames against.
func New(adapter *wgpu.Adapter, device *wgpu.Device, queue *wgpu.Queue, surface *wgpu.Surface, tr *camera.Transform, width, height int) (*Renderer, error) {
	r := &Renderer{
		adapter:   adapter,
		device:    device,
		queue:     queue,
		surface:   surface,
		transform: tr,
		width:     width,
		height:    height,
		textures:  make(map[tiles.Coord]*tileTexture),
	}
	if err := r.init(); err != nil {
		r.Release()
		return nil, err
	}
	return r, nil
}

func (r *Renderer) init() error {
	r.swapChainFormat = r.surface.GetPreferredFormat(r.adapter)
	if err := r.createSwapChain(); err != nil {
		return err
	}

	var err error
	r.sampler, err = r.device.CreateSampler(&wgpu.SamplerDescriptor{
		AddressModeU:   wgpu.AddressMode_ClampToEdge,
		AddressModeV:   wgpu.AddressMode_ClampToEdge,
		AddressModeW:   wgpu.AddressMode_ClampToEdge,
		MagFilter:      wgpu.FilterMode_Linear,
		MinFilter:      wgpu.FilterMode_Linear,
		MipmapFilter:   wgpu.MipmapFilterMode_Nearest,
		MaxAnisotrophy: 1,
	})
	if err != nil {
		return fmt.Errorf("sampler creation failed: %w", err)
	}

	r.tileLayout, err = r.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "tile_bind_group_layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStage_Vertex | wgpu.ShaderStage_Fragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingType_Uniform},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStage_Fragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingType_Filtering},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStage_Fragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleType_Float,
					ViewDimension: wgpu.TextureViewDimension_2D,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("bind group layout creation failed: %w", err)
	}

	r.markerLayout, err = r.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "marker_bind_group_layout",
		Entries: []wgpu.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: wgpu.ShaderStage_Vertex | wgpu.ShaderStage_Fragment,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingType_Uniform},
		}},
	})
	if err != nil {
		return fmt.Errorf("bind group layout creation failed: %w", err)
	}

	r.tilePipeline, err = r.createPipeline("tile_pipeline", tileShader, r.tileLayout)
	if err != nil {
		return err
	}
	r.markerPipeline, err = r.createPipeline("marker_pipeline", markerShader, r.markerLayout)
	if err != nil {
		return err
	}

	// Unit quad shared by every tile and marker draw.
	vertices := []vertex{
		{Position: [2]float32{0, 0}, TexCoord: [2]float32{0, 0}},
		{Position: [2]float32{1, 0}, TexCoord: [2]float32{1, 0}},
		{Position: [2]float32{1, 1}, TexCoord: [2]float32{1, 1}},
		{Position: [2]float32{0, 1}, TexCoord: [2]float32{0, 1}},
	}
	r.quadVertices, err = r.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "quad_vertices",
		Contents: wgpu.ToBytes(vertices),
		Usage:    wgpu.BufferUsage_Vertex,
	})
	if err != nil {
		return fmt.Errorf("vertex buffer creation failed: %w", err)
	}
	indices := []uint16{0, 1, 2, 0, 2, 3}
	r.quadIndices, err = r.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "quad_indices",
		Contents: wgpu.ToBytes(indices),
		Usage:    wgpu.BufferUsage_Index,
	})
	if err != nil {
		return fmt.Errorf("index buffer creation failed: %w", err)
	}

	r.placeholder, err = r.createPlaceholder()
	if err != nil {
		return fmt.Errorf("placeholder creation failed: %w", err)
	}
	return nil
}

func (r *Renderer) createSwapChain() error {
	if r.swapChain != nil {
		r.swapChain.Release()
	}
	var err error
	r.swapChain, err = r.device.CreateSwapChain(r.surface, &wgpu.SwapChainDescriptor{
		Usage:       wgpu.TextureUsage_RenderAttachment,
		Format:      r.swapChainFormat,
		Width:       uint32(r.width),
		Height:      uint32(r.height),
		PresentMode: wgpu.PresentMode_Fifo,
	})
	if err != nil {
		return fmt.Errorf("swap chain creation failed: %w", err)
	}
	return nil
}

func (r *Renderer) createPipeline(label, shaderCode string, layout *wgpu.BindGroupLayout) (*wgpu.RenderPipeline, error) {
	shader, err := r.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaderCode},
	})
	if err != nil {
		return nil, fmt.Errorf("shader creation failed: %w", err)
	}
	defer shader.Release()

	pipelineLayout, err := r.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + "_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline layout creation failed: %w", err)
	}
	defer pipelineLayout.Release()

	pipeline, err := r.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  label,
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: uint64(unsafe.Sizeof(vertex{})),
				StepMode:    wgpu.VertexStepMode_Vertex,
				Attributes: []wgpu.VertexAttribute{
					{Format: wgpu.VertexFormat_Float32x2, Offset: 0, ShaderLocation: 0},
					{Format: wgpu.VertexFormat_Float32x2, Offset: 8, ShaderLocation: 1},
				},
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format: r.swapChainFormat,
				Blend: &wgpu.BlendState{
					Color: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactor_One,
						DstFactor: wgpu.BlendFactor_OneMinusSrcAlpha,
						Operation: wgpu.BlendOperation_Add,
					},
					Alpha: wgpu.BlendComponent{
						SrcFactor: wgpu.BlendFactor_One,
						DstFactor: wgpu.BlendFactor_OneMinusSrcAlpha,
						Operation: wgpu.BlendOperation_Add,
					},
				},
				WriteMask: wgpu.ColorWriteMask_All,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopology_TriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline creation failed: %w", err)
	}
	return pipeline, nil
}

func (r *Renderer) createPlaceholder() (*tileTexture, error) {
	img := image.NewRGBA(image.Rect(0, 0, camera.TileSize, camera.TileSize))
	seaBlue := color.RGBA{R: 160, G: 195, B: 207, A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{seaBlue}, image.Point{}, draw.Src)
	return r.createTileTexture(img)
}

func (r *Renderer) createTileTexture(img *image.RGBA) (*tileTexture, error) {
	texture, err := r.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "tile_texture",
		Size: wgpu.Extent3D{
			Width:              uint32(img.Bounds().Dx()),
			Height:             uint32(img.Bounds().Dy()),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension_2D,
		Format:        wgpu.TextureFormat_RGBA8UnormSrgb,
		Usage:         wgpu.TextureUsage_TextureBinding | wgpu.TextureUsage_CopyDst,
	})
	if err != nil {
		return nil, err
	}
	r.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: texture, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspect_All},
		img.Pix,
		&wgpu.TextureDataLayout{Offset: 0, BytesPerRow: uint32(img.Stride), RowsPerImage: uint32(img.Bounds().Dy())},
		&wgpu.Extent3D{Width: uint32(img.Bounds().Dx()), Height: uint32(img.Bounds().Dy()), DepthOrArrayLayers: 1},
	)
	view, err := texture.CreateView(&wgpu.TextureViewDescriptor{
		Format:          wgpu.TextureFormat_RGBA8UnormSrgb,
		Dimension:       wgpu.TextureViewDimension_2D,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
		Aspect:          wgpu.TextureAspect_All,
	})
	if err != nil {
		texture.Release()
		return nil, err
	}
	return &tileTexture{texture: texture, view: view}, nil
}

// uploadTile decodes and uploads an encoded tile image; already-resident
// coords are a no-op.
func (r *Renderer) uploadTile(coord tiles.Coord, data []byte) error {
	if _, exists := r.textures[coord]; exists {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, image.Point{}, draw.Src)
	tex, err := r.createTileTexture(rgba)
	if err != nil {
		return err
	}
	r.textures[coord] = tex
	return nil
}

type tileDraw struct {
	coord   tiles.Coord
	uniform tileUniform
}

// prepareTiles uploads missing textures and builds the draw list for the
// style's visible raster layers, parents before children.
func (r *Renderer) prepareTiles(ms *style.Style, flags scheduler.RenderFlags) []tileDraw {
	boundaries := float32(0)
	if flags.ShowTileBoundaries {
		boundaries = 1
	}
	used := make(map[tiles.Coord]bool)
	var draws []tileDraw
	for _, id := range ms.LayerOrder() {
		layer := ms.Layer(id)
		if layer == nil || !layer.Visible() || layer.Spec.Type != "raster" {
			continue
		}
		provider, ok := ms.Source(layer.Spec.Source).(tileProvider)
		if !ok {
			continue
		}
		opacity := float32(rasterOpacity(layer) * ms.CrossFadingFactor())
		provider.EachTile(func(c tiles.Coord, data []byte) {
			u, visible := r.tileQuad(c, opacity, boundaries)
			if !visible {
				return
			}
			if err := r.uploadTile(c, data); err != nil {
				logx.Logger().Warn("tile decode failed", "tile", c.String(), "error", err)
				return
			}
			used[c] = true
			draws = append(draws, tileDraw{coord: c, uniform: u})
		})
	}
	sort.SliceStable(draws, func(i, j int) bool { return draws[i].coord.Z < draws[j].coord.Z })
	r.evict(used)
	return draws
}

// tileQuad places one tile quad in NDC and culls it against the viewport.
func (r *Renderer) tileQuad(c tiles.Coord, opacity, boundaries float32) (tileUniform, bool) {
	n := math.Exp2(float64(c.Z))
	origin := geo.LngLat{
		Lng: float64(c.X)/n*360 - 180,
		Lat: math.Atan(math.Sinh(math.Pi*(1-2*float64(c.Y)/n))) * 180 / math.Pi,
	}
	nw := r.transform.Project(origin)
	size := camera.TileSize * math.Exp2(r.transform.Zoom()-float64(c.Z))

	w, h := float64(r.width), float64(r.height)
	if nw.X > w || nw.Y > h || nw.X+size < 0 || nw.Y+size < 0 {
		return tileUniform{}, false
	}
	return tileUniform{
		Offset:     [2]float32{float32(nw.X/w*2 - 1), float32(1 - nw.Y/h*2)},
		Scale:      [2]float32{float32(size / w * 2), float32(-size / h * 2)},
		Opacity:    opacity,
		Boundaries: boundaries,
	}, true
}

func rasterOpacity(layer *style.Layer) float64 {
	if v, ok := layer.Spec.Paint["raster-opacity"].(float64); ok {
		return v
	}
	return 1
}

// evict drops GPU tiles over the cache cap, unused coords first.
func (r *Renderer) evict(used map[tiles.Coord]bool) {
	if len(r.textures) <= maxResidentTextures {
		return
	}
	for c, tex := range r.textures {
		if used[c] {
			continue
		}
		tex.release()
		delete(r.textures, c)
		if len(r.textures) <= maxResidentTextures {
			return
		}
	}
}

func (r *Renderer) markerQuad(s style.PlacedSymbol) markerUniform {
	w, h := float64(r.width), float64(r.height)
	x := s.Screen.X - markerSize/2
	y := s.Screen.Y - markerSize/2
	a := float32(s.Opacity)
	return markerUniform{
		Offset: [2]float32{float32(x/w*2 - 1), float32(1 - y/h*2)},
		Scale:  [2]float32{float32(markerSize / w * 2), float32(-markerSize / h * 2)},
		Color:  [4]float32{0.13 * a, 0.13 * a, 0.13 * a, a},
	}
}

// Render draws one frame. A surface that cannot provide a frame reports
// ErrSurfaceUnavailable and leaves all state untouched.
func (r *Renderer) Render(st scheduler.Style, flags scheduler.RenderFlags) error {
	view, err := r.swapChain.GetCurrentTextureView()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	}
	defer view.Release()

	ms, _ := st.(*style.Style)
	var draws []tileDraw
	if ms != nil {
		draws = r.prepareTiles(ms, flags)
	}

	encoder, err := r.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{})
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOp_Clear,
			StoreOp:    wgpu.StoreOp_Store,
			ClearValue: wgpu.Color{R: 0.627, G: 0.765, B: 0.812, A: 1.0},
		}},
	})

	// Per-draw uniforms live until the queue submission below.
	var temp []interface{ Release() }
	defer func() {
		for _, res := range temp {
			res.Release()
		}
	}()

	pass.SetVertexBuffer(0, r.quadVertices, 0, wgpu.WholeSize)
	pass.SetIndexBuffer(r.quadIndices, wgpu.IndexFormat_Uint16, 0, wgpu.WholeSize)

	pass.SetPipeline(r.tilePipeline)
	for _, d := range draws {
		buf, err := r.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
			Label:    "tile_uniform",
			Contents: wgpu.ToBytes([]tileUniform{d.uniform}),
			Usage:    wgpu.BufferUsage_Uniform,
		})
		if err != nil {
			continue
		}
		temp = append(temp, buf)
		tex := r.placeholder
		if t, ok := r.textures[d.coord]; ok {
			tex = t
		}
		group, err := r.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "tile_bind_group",
			Layout: r.tileLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: buf, Size: uint64(unsafe.Sizeof(tileUniform{}))},
				{Binding: 1, Sampler: r.sampler},
				{Binding: 2, TextureView: tex.view},
			},
		})
		if err != nil {
			continue
		}
		temp = append(temp, group)
		pass.SetBindGroup(0, group, nil)
		pass.DrawIndexed(6, 1, 0, 0, 0)
	}

	if ms != nil {
		symbols := ms.PlacedSymbols()
		if len(symbols) > 0 {
			pass.SetPipeline(r.markerPipeline)
			for _, s := range symbols {
				buf, err := r.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
					Label:    "marker_uniform",
					Contents: wgpu.ToBytes([]markerUniform{r.markerQuad(s)}),
					Usage:    wgpu.BufferUsage_Uniform,
				})
				if err != nil {
					continue
				}
				temp = append(temp, buf)
				group, err := r.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
					Label:  "marker_bind_group",
					Layout: r.markerLayout,
					Entries: []wgpu.BindGroupEntry{
						{Binding: 0, Buffer: buf, Size: uint64(unsafe.Sizeof(markerUniform{}))},
					},
				})
				if err != nil {
					continue
				}
				temp = append(temp, group)
				pass.SetBindGroup(0, group, nil)
				pass.DrawIndexed(6, 1, 0, 0, 0)
			}
		}
	}

	pass.End()

	cmdBuffer, err := encoder.Finish(&wgpu.CommandBufferDescriptor{})
	if err != nil {
		return err
	}
	defer cmdBuffer.Release()

	r.queue.Submit(cmdBuffer)
	r.swapChain.Present()
	return nil
}

// Resize recreates the swap chain for the new surface size.
func (r *Renderer) Resize(width, height int) {
	if width == 0 || height == 0 {
		return
	}
	r.width = width
	r.height = height
	if err := r.createSwapChain(); err != nil {
		logx.Logger().Warn("swap chain resize failed", "error", err)
	}
}

// Release frees all GPU resources.
func (r *Renderer) Release() {
	for c, tex := range r.textures {
		tex.release()
		delete(r.textures, c)
	}
	if r.placeholder != nil {
		r.placeholder.release()
		r.placeholder = nil
	}
	for _, res := range []interface{ Release() }{
		r.quadVertices, r.quadIndices,
		r.markerPipeline, r.tilePipeline,
		r.markerLayout, r.tileLayout,
		r.sampler, r.swapChain,
	} {
		if res != nil && !isNil(res) {
			res.Release()
		}
	}
	r.swapChain = nil
}

// isNil guards the typed-nil case when ranging over heterogeneous
// resources.
func isNil(v interface{ Release() }) bool {
	switch x := v.(type) {
	case *wgpu.Buffer:
		return x == nil
	case *wgpu.RenderPipeline:
		return x == nil
	case *wgpu.BindGroupLayout:
		return x == nil
	case *wgpu.Sampler:
		return x == nil
	case *wgpu.SwapChain:
		return x == nil
	}
	return false
}
