package renderer

// tileShader draws one raster tile quad. The quad is a unit square scaled
// and offset into NDC by the per-draw uniform; opacity multiplies the
// sampled color, and boundaries > 0.5 tints the tile edges for the debug
// overlay.
const tileShader = `
struct TileUniform {
    offset: vec2<f32>,
    scale: vec2<f32>,
    opacity: f32,
    boundaries: f32,
    _pad: vec2<f32>,
}

@group(0) @binding(0) var<uniform> tile: TileUniform;
@group(0) @binding(1) var tileSampler: sampler;
@group(0) @binding(2) var tileTexture: texture_2d<f32>;

struct VertexInput {
    @location(0) position: vec2<f32>,
    @location(1) texCoord: vec2<f32>,
}

struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) texCoord: vec2<f32>,
}

@vertex
fn vs_main(in: VertexInput) -> VertexOutput {
    var out: VertexOutput;
    let pos = in.position * tile.scale + tile.offset;
    out.position = vec4<f32>(pos, 0.0, 1.0);
    out.texCoord = in.texCoord;
    return out;
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    let color = textureSample(tileTexture, tileSampler, in.texCoord);
    if (tile.boundaries > 0.5) {
        let edge = min(min(in.texCoord.x, 1.0 - in.texCoord.x),
                       min(in.texCoord.y, 1.0 - in.texCoord.y));
        if (edge < 0.004) {
            return vec4<f32>(1.0, 0.2, 0.2, 1.0);
        }
    }
    return vec4<f32>(color.rgb * tile.opacity, color.a * tile.opacity);
}
`

// markerShader draws a solid quad for a placed symbol anchor; the symbol
// fade opacity arrives premultiplied in the uniform color.
const markerShader = `
struct MarkerUniform {
    offset: vec2<f32>,
    scale: vec2<f32>,
    color: vec4<f32>,
}

@group(0) @binding(0) var<uniform> marker: MarkerUniform;

struct VertexInput {
    @location(0) position: vec2<f32>,
    @location(1) texCoord: vec2<f32>,
}

@vertex
fn vs_main(in: VertexInput) -> @builtin(position) vec4<f32> {
    let pos = in.position * marker.scale + marker.offset;
    return vec4<f32>(pos, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return marker.color;
}
`
